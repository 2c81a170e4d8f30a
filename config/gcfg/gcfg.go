// Package gcfg is the concrete layout-file grammar: a minimal
// keyword-tree driver, built on package config, that wires "raw" and
// "dosmbr" volume blocks, "tarfs"/"cpiofs"/"fat32" filesystem blocks
// (nestable via "volumefile"), and a "mountgroup" block with dirscan,
// tarunpack, listing and bind lines, into a depgraph.Tracker and
// imgtool/sink.Sink ready to commit.
//
// Grounded on original_source/bin/imagebuild/{imagebuild.c,
// builtin_volume.c, builtin_fs.c, builtin_part.c, builtin_source.c}.
// The original dynamically assembles its keyword tree from a plugin
// registry (shared libraries discovered at runtime); this port has no
// plugin system, so the same fixed set of keywords that ships with
// imgtool is simply written out as a literal []config.Keyword tree.
package gcfg

import (
	"fmt"

	"github.com/imgtool-go/imgtool/config"
	"github.com/imgtool-go/imgtool/depgraph"
	"github.com/imgtool-go/imgtool/filesystem"
	"github.com/imgtool-go/imgtool/filesystem/cpiofs"
	"github.com/imgtool-go/imgtool/filesystem/fat32"
	"github.com/imgtool-go/imgtool/filesystem/tarfs"
	"github.com/imgtool-go/imgtool/fstree"
	"github.com/imgtool-go/imgtool/imgtool/sink"
	"github.com/imgtool-go/imgtool/imgtool/source"
	"github.com/imgtool-go/imgtool/partition/mbr"
	"github.com/imgtool-go/imgtool/volume"
)

// Image is everything Build assembled out of a layout file: a
// dependency tracker ready to Commit, the sink its mountgroups feed,
// and every named filesystem for later inspection.
type Image struct {
	Tracker     *depgraph.Tracker
	Sink        *sink.Sink
	Filesystems map[string]filesystem.Driver
	Trees       map[string]*fstree.Tree
}

// mbrRootVolume wraps the base output volume so that committing it
// also writes the partition table header, after every partition's own
// filesystem has built (the depgraph only ever calls Commit on the
// volumes and filesystems it tracks, so the table write has to be
// attached to one of them).
type mbrRootVolume struct {
	volume.Volume
	table *mbr.Table
}

func (m *mbrRootVolume) Commit() error {
	if err := m.table.Commit(); err != nil {
		return err
	}
	return m.Volume.Commit()
}

// state is threaded through every Handle/Finalize callback as the
// keyword tree's "user" data (kwd->user in the original).
type state struct {
	img  *Image
	base volume.Volume
}

// volContext is the parent object handed to filesystem-block keywords:
// the volume.Volume they should be built on.
type volContext struct {
	st  *state
	vol volume.Volume
}

// fsContext is the parent object handed to a filesystem block's own
// children (currently just "volumefile"): the filesystem just created
// and the tree it owns.
type fsContext struct {
	st   *state
	fs   filesystem.Driver
	tree *fstree.Tree
}

// mountGroupContext accumulates file sources for one mountgroup block
// before draining them into the sink via AddData.
type mountGroupContext struct {
	st      *state
	sources []source.Source
}

// Build parses content (named name, for error messages) against the
// layout grammar, using base as the volume the root-level "raw" or
// "dosmbr" block builds onto.
func Build(name, content string, base volume.Volume) (*Image, error) {
	img := &Image{
		Tracker:     depgraph.New(),
		Sink:        sink.New(),
		Filesystems: make(map[string]filesystem.Driver),
		Trees:       make(map[string]*fstree.Tree),
	}
	st := &state{img: img, base: base}

	file := config.NewFile(name, content)
	if err := config.ParseFile(file, rootKeywords(), st); err != nil {
		return nil, err
	}
	return img, nil
}

func rootKeywords() []config.Keyword {
	return []config.Keyword{
		{
			Name: "raw",
			Arg:  config.ArgSize,
			Handle: func(file *config.File, parent interface{}, _ string) (interface{}, error) {
				st := parent.(*state)
				if err := st.img.Tracker.AddVolume(st.base, nil); err != nil {
					return nil, file.ReportError("%s", err)
				}
				return &volContext{st: st, vol: st.base}, nil
			},
			Children: filesystemKeywords(),
		},
		{
			Name: "dosmbr",
			Arg:  config.ArgSize,
			Handle: func(file *config.File, parent interface{}, _ string) (interface{}, error) {
				st := parent.(*state)
				table, err := mbr.New(st.base)
				if err != nil {
					return nil, file.ReportError("dosmbr: %s", err)
				}
				root := &mbrRootVolume{Volume: st.base, table: table}
				if err := st.img.Tracker.AddVolume(root, nil); err != nil {
					return nil, file.ReportError("%s", err)
				}
				return &mbrContext{st: st, table: table, root: root}, nil
			},
			Children: partitionKeywords(),
		},
		{
			Name: "mountgroup",
			Arg:  config.ArgNone,
			Handle: func(_ *config.File, parent interface{}, _ string) (interface{}, error) {
				st := parent.(*state)
				return &mountGroupContext{st: st}, nil
			},
			Children: mountGroupKeywords(),
			Finalize: func(file *config.File, child interface{}) error {
				mg := child.(*mountGroupContext)
				agg := source.NewAggregate()
				for _, s := range mg.sources {
					agg.Add(s)
				}
				if err := mg.st.img.Sink.AddData(agg); err != nil {
					return file.ReportError("%s", err)
				}
				return nil
			},
		},
	}
}

// mbrContext is the parent object handed to "partition" keywords: the
// table they add partitions to, and the root volume node every
// partition's volume should depend on so the table header is written
// only after every partition's own filesystem has built.
type mbrContext struct {
	st    *state
	table *mbr.Table
	root  *mbrRootVolume
}

func partitionKeywords() []config.Keyword {
	return []config.Keyword{
		{
			Name: "partition",
			Arg:  config.ArgString,
			Handle: func(file *config.File, parent interface{}, raw string) (interface{}, error) {
				mc := parent.(*mbrContext)
				ptype, sizeSectors, err := parsePartitionArg(raw)
				if err != nil {
					return nil, file.ReportError("%s", err)
				}
				pv, err := mc.table.CreatePartition(sizeSectors, ptype, sizeSectors == 0)
				if err != nil {
					return nil, file.ReportError("creating partition: %s", err)
				}
				if err := mc.st.img.Tracker.AddVolume(pv, mc.root); err != nil {
					return nil, file.ReportError("%s", err)
				}
				return &volContext{st: mc.st, vol: pv}, nil
			},
			Children: filesystemKeywords(),
		},
	}
}

func parsePartitionArg(raw string) (byte, uint64, error) {
	var typeName string
	var sizeStr string
	n, err := fmt.Sscanf(raw, "%s %s", &typeName, &sizeStr)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("expected \"<type> <size>\", got %q", raw)
	}
	var ptype byte
	switch typeName {
	case "linux":
		ptype = mbr.TypeLinux
	case "swap":
		ptype = mbr.TypeLinuxSwap
	case "fat32":
		ptype = mbr.TypeFat32LBA
	default:
		return 0, 0, fmt.Errorf("unknown partition type %q", typeName)
	}
	if sizeStr == "grow" {
		return ptype, 0, nil
	}
	size, err := config.ParseSize(sizeStr)
	if err != nil {
		return 0, 0, err
	}
	return ptype, size / mbr.SectorSize, nil
}

func filesystemKeywords() []config.Keyword {
	return []config.Keyword{
		{
			Name:     "tarfs",
			Arg:      config.ArgString,
			Handle:   createFSHandler("tarfs"),
			Children: fsCommonKeywords(),
		},
		{
			Name:     "cpiofs",
			Arg:      config.ArgString,
			Handle:   createFSHandler("cpiofs"),
			Children: fsCommonKeywords(),
		},
		{
			Name:     "fat32",
			Arg:      config.ArgString,
			Handle:   createFSHandler("fat32"),
			Children: fsCommonKeywords(),
		},
	}
}

func createFSHandler(kind string) config.HandleFunc {
	return func(file *config.File, parent interface{}, name string) (interface{}, error) {
		vc := parent.(*volContext)
		if name == "" {
			return nil, file.ReportError("%s: filesystem needs a name", kind)
		}

		var fs filesystem.Driver
		var tree *fstree.Tree
		var err error

		switch kind {
		case "tarfs":
			var f *tarfs.FS
			f, tree, err = tarfs.New(vc.vol)
			fs = f
		case "cpiofs":
			var f *cpiofs.FS
			f, tree, err = cpiofs.New(vc.vol)
			fs = f
		case "fat32":
			var f *fat32.FS
			f, tree, err = fat32.New(vc.vol, "IMGTOOL", name)
			fs = f
		}
		if err != nil {
			return nil, file.ReportError("creating %s %q: %s", kind, name, err)
		}

		if err := vc.st.img.Tracker.AddFilesystem(fs, tree, vc.vol, name); err != nil {
			return nil, file.ReportError("%s", err)
		}
		vc.st.img.Filesystems[name] = fs
		vc.st.img.Trees[name] = tree

		return &fsContext{st: vc.st, fs: fs, tree: tree}, nil
	}
}

// fsCommonKeywords is shared by every filesystem block: "volumefile"
// stacks a nested filesystem inside one of this filesystem's own
// files, matching cb_create_volumefile/cfg_fs_common.
func fsCommonKeywords() []config.Keyword {
	return []config.Keyword{volumefileKeyword()}
}

func volumefileKeyword() config.Keyword {
	return config.Keyword{
		Name: "volumefile",
		Arg:  config.ArgString,
		Handle: func(file *config.File, parent interface{}, path string) (interface{}, error) {
			fc := parent.(*fsContext)
			n, err := fc.tree.AddFile(path)
			if err != nil {
				return nil, file.ReportError("%s: %s", path, err)
			}
			fv, err := fc.tree.NewFileVolume(n, fc.tree.Volume.Blocksize(), 0, ^uint64(0))
			if err != nil {
				return nil, file.ReportError("%s: creating volume wrapper: %s", path, err)
			}
			if err := fc.st.img.Tracker.AddVolumeFile(fv, fc.fs); err != nil {
				return nil, file.ReportError("%s", err)
			}
			return &volContext{st: fc.st, vol: fv}, nil
		},
		Children: filesystemKeywords(),
	}
}

func mountGroupKeywords() []config.Keyword {
	return []config.Keyword{
		{
			Name: "dirscan",
			Arg:  config.ArgString,
			Handle: func(file *config.File, parent interface{}, path string) (interface{}, error) {
				mg := parent.(*mountGroupContext)
				d, err := source.NewDirectory(path)
				if err != nil {
					return nil, file.ReportError("dirscan %q: %s", path, err)
				}
				mg.sources = append(mg.sources, d)
				return mg, nil
			},
		},
		{
			Name: "tarunpack",
			Arg:  config.ArgString,
			Handle: func(file *config.File, parent interface{}, path string) (interface{}, error) {
				mg := parent.(*mountGroupContext)
				t, err := source.NewTar(path)
				if err != nil {
					return nil, file.ReportError("tarunpack %q: %s", path, err)
				}
				mg.sources = append(mg.sources, t)
				return mg, nil
			},
		},
		{
			Name: "listing",
			Arg:  config.ArgString,
			Handle: func(_ *config.File, parent interface{}, sourceDir string) (interface{}, error) {
				mg := parent.(*mountGroupContext)
				l := source.NewListing(sourceDir)
				mg.sources = append(mg.sources, l)
				return l, nil
			},
			HandleLine: func(file *config.File, object interface{}, line string) error {
				l := object.(*source.Listing)
				if err := l.AddLine(line); err != nil {
					return file.ReportError("%s", err)
				}
				return nil
			},
		},
		{
			Name: "filter",
			Arg:  config.ArgNone,
			Handle: func(_ *config.File, parent interface{}, _ string) (interface{}, error) {
				mg := parent.(*mountGroupContext)
				if len(mg.sources) == 0 {
					return nil, fmt.Errorf("config: filter: no source to wrap yet")
				}
				f := source.NewFilter(mg.sources[len(mg.sources)-1])
				mg.sources[len(mg.sources)-1] = f
				return f, nil
			},
			Children: []config.Keyword{
				{
					Name: "allow",
					Arg:  config.ArgString,
					Handle: func(_ *config.File, parent interface{}, pattern string) (interface{}, error) {
						f := parent.(*source.Filter)
						f.AddGlobRule(pattern, source.FilterAllow)
						return f, nil
					},
				},
				{
					Name: "discard",
					Arg:  config.ArgString,
					Handle: func(_ *config.File, parent interface{}, pattern string) (interface{}, error) {
						f := parent.(*source.Filter)
						f.AddGlobRule(pattern, source.FilterDiscard)
						return f, nil
					},
				},
			},
		},
		{
			Name: "bind",
			Arg:  config.ArgString,
			Handle: func(file *config.File, parent interface{}, raw string) (interface{}, error) {
				mg := parent.(*mountGroupContext)
				path, fsName, err := splitBindArg(raw)
				if err != nil {
					return nil, file.ReportError("%s", err)
				}
				_, tree, ok := mg.st.img.Tracker.GetFilesystemByName(fsName)
				if !ok {
					return nil, file.ReportError("cannot find filesystem %q", fsName)
				}
				if err := mg.st.img.Sink.Bind(path, tree); err != nil {
					return nil, file.ReportError("%s", err)
				}
				return mg, nil
			},
		},
	}
}

// splitBindArg splits "<path>:<filesystem>" on the last colon,
// matching cb_mp_add_bind.
func splitBindArg(raw string) (path, fsName string, err error) {
	idx := -1
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] == ':' {
			idx = i
			break
		}
	}
	if idx <= 0 || idx == len(raw)-1 {
		return "", "", fmt.Errorf("expected \"<path>:<filesystem>\"")
	}
	return raw[:idx], raw[idx+1:], nil
}
