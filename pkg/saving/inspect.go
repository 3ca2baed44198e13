// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package saving

import (
	"archive/zip"
	"encoding/json"

	"github.com/pkg/errors"
)

// ArchiveMember describes one entry of a model archive, for inspection.
type ArchiveMember struct {
	Name             string
	UncompressedSize uint64
	CompressedSize   uint64
}

// ListArchive returns the members of the model archive at filePath, in
// archive order.
func ListArchive(filePath string) ([]ArchiveMember, error) {
	if err := checkExtension(filePath, ModelExt); err != nil {
		return nil, err
	}
	zipReader, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open model archive %q", filePath)
	}
	defer func() { _ = zipReader.Close() }()

	members := make([]ArchiveMember, 0, len(zipReader.File))
	for _, f := range zipReader.File {
		members = append(members, ArchiveMember{
			Name:             f.Name,
			UncompressedSize: f.UncompressedSize64,
			CompressedSize:   f.CompressedSize64,
		})
	}
	return members, nil
}

// ReadMetadata returns the metadata recorded in the model archive at
// filePath.
func ReadMetadata(filePath string) (*Metadata, error) {
	if err := checkExtension(filePath, ModelExt); err != nil {
		return nil, err
	}
	zipReader, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open model archive %q", filePath)
	}
	defer func() { _ = zipReader.Close() }()

	for _, f := range zipReader.File {
		if f.Name != metadataMember {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open archive member %q", metadataMember)
		}
		var metadata Metadata
		err = json.NewDecoder(r).Decode(&metadata)
		_ = r.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse metadata of %q", filePath)
		}
		return &metadata, nil
	}
	return nil, errors.Errorf("archive member %q not found in %q", metadataMember, filePath)
}
