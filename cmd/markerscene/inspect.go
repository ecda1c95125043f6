package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/rookie-ar/markerscene/internal/storage/memory"
)

// runInspect prints a msgpack journal export as indented JSON.
func runInspect(args []string) error {
	fs, _ := newFlags("inspect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: markerscene inspect <export file>")
	}
	export, err := memory.ReadExport(fs.Arg(0))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}
