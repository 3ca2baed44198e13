// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// modelarchive_inspect prints the contents of a model archive (".keras") or
// a standalone weights file (".weights.h5"): archive members, save metadata
// and the weights group tree.
//
// Usage:
//
//	modelarchive_inspect [-members] [-metadata] [-weights] <file>
//
// With no report flag, all applicable reports are printed.
package main

import (
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/modelarchive/pkg/saving"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagMembers  = flag.Bool("members", false, "Lists the archive members with their sizes.")
	flagMetadata = flag.Bool("metadata", false, "Prints the archive save metadata.")
	flagWeights  = flag.Bool("weights", false, "Lists the weights store contents: every group path, variable name and shape.")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing model archive or weights file to inspect. See 'modelarchive_inspect -help'.")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'modelarchive_inspect -help'.")
		os.Exit(1)
	}
	filePath := args[0]

	all := !*flagMembers && !*flagMetadata && !*flagWeights
	isArchive := strings.HasSuffix(filePath, saving.ModelExt)
	if *flagMembers || (all && isArchive) {
		reportMembers(filePath)
	}
	if *flagMetadata || (all && isArchive) {
		reportMetadata(filePath)
	}
	if *flagWeights || all {
		reportWeights(filePath)
	}
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Left)
			} else {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}

func reportMembers(filePath string) {
	members := must.M1(saving.ListArchive(filePath))
	fmt.Println(titleStyle.Render("Archive members"))
	table := newPlainTable(true)
	table.Row("Member", "Size", "Compressed")
	var totalSize, totalCompressed uint64
	for _, member := range members {
		table.Row(member.Name,
			humanize.Bytes(member.UncompressedSize),
			humanize.Bytes(member.CompressedSize))
		totalSize += member.UncompressedSize
		totalCompressed += member.CompressedSize
	}
	table.Row("(total)", humanize.Bytes(totalSize), humanize.Bytes(totalCompressed))
	fmt.Println(table.Render())
}

func reportMetadata(filePath string) {
	metadata := must.M1(saving.ReadMetadata(filePath))
	fmt.Println(titleStyle.Render("Metadata"))
	table := newPlainTable(false)
	table.Row("version", metadata.Version)
	table.Row("date_saved", metadata.DateSaved)
	fmt.Println(table.Render())
}

func reportWeights(filePath string) {
	store := must.M1(saving.OpenWeights(filePath))
	defer func() { must.M(store.Close()) }()

	fmt.Println(titleStyle.Render("Weights"))
	table := newPlainTable(true)
	table.Row("Path", "Name", "Shape", "Size", "Bytes")
	var numVars, totalSize int
	var totalMemory uintptr
	for _, path := range store.Paths() {
		vars := must.M1(store.Get(path))
		for _, name := range slices.Sorted(maps.Keys(vars)) {
			t := vars[name]
			shape := t.Shape()
			table.Row(path, name, shape.String(),
				humanize.Comma(int64(shape.Size())),
				humanize.Bytes(uint64(shape.Memory())))
			numVars++
			totalSize += shape.Size()
			totalMemory += shape.Memory()
		}
	}
	table.Row("(total)", humanize.Comma(int64(numVars))+" vars",
		"", humanize.Comma(int64(totalSize)), humanize.Bytes(uint64(totalMemory)))
	fmt.Println(table.Render())
}
