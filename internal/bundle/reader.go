package bundle

import (
	"archive/zip"
	"fmt"

	"github.com/ManuGH/blackbox/internal/incident"
)

// ReadReport extracts the report stored in a bundle.
func ReadReport(path string) (incident.Report, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return incident.Report{}, fmt.Errorf("open bundle: %w", err)
	}
	defer zr.Close()

	f, err := zr.Open(incident.JSONFileName)
	if err != nil {
		return incident.Report{}, fmt.Errorf("open %s: %w", incident.JSONFileName, err)
	}
	defer f.Close()
	return incident.ReadJSON(f)
}

// Entries lists the entry names of a bundle in archive order.
func Entries(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}
