// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package saving

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gomlx/modelarchive/pkg/saving/registry"
	"github.com/gomlx/modelarchive/pkg/saving/stores"
	"github.com/gomlx/modelarchive/pkg/saving/track"
	"github.com/gomlx/modelarchive/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Metadata is the content of the archive's metadata.json member.
type Metadata struct {
	// Version of the library that wrote the archive.
	Version string `json:"version"`

	// DateSaved is the save timestamp, formatted "2006-01-02@15:04:05".
	DateSaved string `json:"date_saved"`
}

// SaveModel saves node and everything reachable from it into a ".keras"
// archive at filePath. The format selects the weights store backend; the
// empty format defaults to WeightsH5.
//
// The node's configuration is serialized through pkg/saving/registry, so the
// root (and whatever its builder needs to reconstruct) must implement
// registry.Configurable. Saving an unbuilt node (track.Builder reporting
// false) is allowed but logs a warning, since its state may be incomplete.
func SaveModel(ctx context.Context, node track.Trackable, filePath string, format WeightsFormat) error {
	if node == nil {
		return errors.Errorf("cannot save a nil node")
	}
	if format == "" {
		format = WeightsH5
	}
	weightsMember, err := weightsMemberForFormat(format)
	if err != nil {
		return err
	}
	if err = checkExtension(filePath, ModelExt); err != nil {
		return err
	}
	if builder, ok := node.(track.Builder); ok && !builder.Built() {
		klog.Warningf("Saving model to %q before it was built: its state may be incomplete.", filePath)
	}

	ctx = WithSavingActive(ctx)
	serialized, err := registry.Serialize(ctx, node)
	if err != nil {
		return err
	}
	configJSON, err := json.Marshal(serialized)
	if err != nil {
		return errors.Wrapf(err, "failed to encode model configuration")
	}
	metadataJSON, err := json.Marshal(Metadata{
		Version:   Version,
		DateSaved: time.Now().Format(dateSavedLayout),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to encode archive metadata")
	}

	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create model archive %q", filePath)
	}
	zipWriter := zip.NewWriter(f)

	err = saveModelMembers(node, zipWriter, weightsMember, format, metadataJSON, configJSON)

	zipErr := zipWriter.Close()
	fileErr := f.Close()
	if err == nil && zipErr != nil {
		err = errors.Wrapf(zipErr, "failed to finalize model archive %q", filePath)
	}
	if err == nil && fileErr != nil {
		err = errors.Wrapf(fileErr, "failed to close model archive %q", filePath)
	}
	if err != nil {
		// Don't leave a partial archive behind.
		if removeErr := os.Remove(filePath); removeErr != nil {
			klog.Warningf("Failed to remove partial model archive %q: %v", filePath, removeErr)
		}
	}
	return err
}

// saveModelMembers writes every archive member: metadata, config, the
// weights store and the assets tree. Stores are closed on every path, since
// closing is what flushes them into the archive and releases temp storage.
func saveModelMembers(node track.Trackable, zipWriter *zip.Writer,
	weightsMember string, format WeightsFormat, metadataJSON, configJSON []byte) error {
	for _, member := range []struct {
		name    string
		content []byte
	}{
		{metadataMember, metadataJSON},
		{configMember, configJSON},
	} {
		w, err := zipWriter.Create(member.name)
		if err == nil {
			_, err = w.Write(member.content)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to write archive member %q", member.name)
		}
	}

	var numericStore stores.NumericStore
	if format == WeightsNpz {
		numericStore = stores.NewNpzArchiveWriter(zipWriter, weightsMember)
	} else {
		numericStore = stores.NewHierArchiveWriter(zipWriter, weightsMember)
	}
	assetStore, err := stores.NewDiskWriter(zipWriter, assetsRoot)
	if err != nil {
		_ = numericStore.Close()
		return err
	}

	walkErr := saveState(node, numericStore, assetStore, "", sets.Make[track.Trackable]())
	numericErr := numericStore.Close()
	assetErr := assetStore.Close()
	switch {
	case walkErr != nil:
		return walkErr
	case numericErr != nil:
		return numericErr
	default:
		return assetErr
	}
}

// LoadOption configures LoadModel.
type LoadOption func(*loadOptions)

type loadOptions struct {
	withoutCompile bool
	overrides      map[string]registry.BuilderFn
}

// WithoutCompile nulls the "compile_config" entry of the stored
// configuration before the root node is rebuilt, so the builder skips
// restoring the training setup.
func WithoutCompile() LoadOption {
	return func(o *loadOptions) { o.withoutCompile = true }
}

// WithCustomObject supplies a builder for one class name, taking precedence
// over the process-wide registry for this load only.
func WithCustomObject(className string, builder registry.BuilderFn) LoadOption {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = make(map[string]registry.BuilderFn)
		}
		o.overrides[className] = builder
	}
}

// LoadModel rebuilds the model saved at filePath: it reconstructs the root
// node from the archived configuration and then restores the state of every
// node in the graph from the archived weights store and assets.
func LoadModel(ctx context.Context, filePath string, options ...LoadOption) (track.Trackable, error) {
	var opts loadOptions
	for _, option := range options {
		option(&opts)
	}
	if err := checkExtension(filePath, ModelExt); err != nil {
		return nil, err
	}

	zipReader, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open model archive %q", filePath)
	}
	defer func() { _ = zipReader.Close() }()

	serialized, err := readJSONMember(&zipReader.Reader, configMember)
	if err != nil {
		return nil, errors.WithMessagef(err, "model archive %q", filePath)
	}
	if opts.withoutCompile {
		stripCompileConfig(serialized)
	}

	ctx = WithSavingActive(ctx)
	node, err := registry.Deserialize(ctx, serialized, opts.overrides)
	if err != nil {
		return nil, errors.WithMessagef(err, "model archive %q", filePath)
	}

	numericStore, err := openArchiveWeights(&zipReader.Reader)
	if err != nil {
		return nil, errors.WithMessagef(err, "model archive %q", filePath)
	}
	var assetStore *stores.DiskStore
	if archiveHasAssets(&zipReader.Reader) {
		assetStore, err = stores.NewDiskReader(&zipReader.Reader, assetsRoot)
		if err != nil {
			_ = numericStore.Close()
			return nil, errors.WithMessagef(err, "model archive %q", filePath)
		}
	}

	walkErr := loadState(node, numericStore, assetStore, "", sets.Make[track.Trackable]())
	_ = numericStore.Close()
	if assetStore != nil {
		_ = assetStore.Close()
	}
	if walkErr != nil {
		return nil, walkErr
	}
	return node, nil
}

// stripCompileConfig nulls the compile-related entry wherever it appears:
// next to the class name or inside the constructor configuration.
func stripCompileConfig(serialized map[string]any) {
	if _, found := serialized["compile_config"]; found {
		serialized["compile_config"] = nil
	}
	if config, ok := serialized["config"].(map[string]any); ok {
		if _, found := config["compile_config"]; found {
			config["compile_config"] = nil
		}
	}
}

// openArchiveWeights finds the archive's weights member, whichever format it
// was saved with, and opens the matching store for reading. An archive with
// no recognized weights member is malformed.
func openArchiveWeights(zipReader *zip.Reader) (stores.NumericStore, error) {
	for _, f := range zipReader.File {
		switch f.Name {
		case weightsH5Member:
			r, err := f.Open()
			if err != nil {
				return nil, errors.Wrapf(err, "failed to open archive member %q", f.Name)
			}
			defer func() { _ = r.Close() }()
			return stores.NewHierArchiveReader(r)
		case weightsNpzMember:
			r, err := f.Open()
			if err != nil {
				return nil, errors.Wrapf(err, "failed to open archive member %q", f.Name)
			}
			defer func() { _ = r.Close() }()
			return stores.NewNpzArchiveReader(r)
		}
	}
	return nil, errors.Errorf("no weights member (%q or %q) found in archive",
		weightsH5Member, weightsNpzMember)
}

// archiveHasAssets reports whether any member sits under the assets tree.
func archiveHasAssets(zipReader *zip.Reader) bool {
	prefix := assetsRoot + "/"
	for _, f := range zipReader.File {
		if strings.HasPrefix(f.Name, prefix) {
			return true
		}
	}
	return false
}

// readJSONMember parses one JSON archive member into a generic mapping.
func readJSONMember(zipReader *zip.Reader, memberName string) (map[string]any, error) {
	for _, f := range zipReader.File {
		if f.Name != memberName {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open archive member %q", memberName)
		}
		data, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read archive member %q", memberName)
		}
		var parsed map[string]any
		if err = json.Unmarshal(data, &parsed); err != nil {
			return nil, errors.Wrapf(err, "failed to parse archive member %q", memberName)
		}
		return parsed, nil
	}
	return nil, errors.Errorf("archive member %q not found", memberName)
}
