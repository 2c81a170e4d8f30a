package fat32

import (
	"sort"

	"github.com/imgtool-go/imgtool/fstree"
	"github.com/imgtool-go/imgtool/volume"
)

// fatWindowSize is the sliding buffer size used while writing cluster
// chains, flushed to both FAT copies once it's half full. Grounded on
// fat.c's FAT_WINDOW_SIZE.
const fatWindowSize = 4096

// fatParams carries exactly what the cluster-chain writer needs from
// FS, independent of the rest of its construction state.
type fatParams struct {
	fatType       int
	fatStart      uint64
	fatSize       uint64
	secsPerCluster uint32
}

func slideWindow(raw volume.Volume, p fatParams, window []byte, windowOffset *uint64, nextWrOffset *uint64) error {
	if p.fatSize <= fatWindowSize {
		return nil
	}
	if *nextWrOffset <= fatWindowSize/2 {
		return nil
	}

	diff := uint64(fatWindowSize / 2)
	offset := p.fatStart + *windowOffset
	if err := volume.Write(raw, offset, window[:diff], diff); err != nil {
		return err
	}
	offset += p.fatSize
	if err := volume.Write(raw, offset, window[:diff], diff); err != nil {
		return err
	}

	copy(window, window[diff:*nextWrOffset])
	*windowOffset += diff
	*nextWrOffset -= diff
	for i := *nextWrOffset; i < fatWindowSize; i++ {
		window[i] = 0
	}
	return nil
}

func flushWindow(raw volume.Volume, p fatParams, window []byte, windowOffset uint64) error {
	offset := p.fatStart + windowOffset
	size := p.fatSize - windowOffset
	if size > fatWindowSize {
		size = fatWindowSize
	}

	if err := volume.Write(raw, offset, window[:size], size); err != nil {
		return err
	}
	offset += p.fatSize
	return volume.Write(raw, offset, window[:size], size)
}

type clusterChainFunc func(raw volume.Volume, p fatParams, window []byte, windowOffset *uint64, index, count uint32) error

// writeClusterChain12 packs 12-bit entries two-to-three-bytes, matching
// fat.c's write_cluster_chain_12.
func writeClusterChain12(raw volume.Volume, p fatParams, window []byte, windowOffset *uint64, index, count uint32) error {
	for i := uint32(0); i < count; i++ {
		cur := uint64(index + i)
		fatOffset := cur + cur/2 - *windowOffset

		if err := slideWindow(raw, p, window, windowOffset, &fatOffset); err != nil {
			return err
		}

		var next uint16
		if i+1 < count {
			next = uint16(index + i + 1)
		} else {
			next = 0xFFFF
		}
		next &= 0x0FFF

		value := uint16(window[fatOffset]) | uint16(window[fatOffset+1])<<8
		if (index+i)&1 != 0 {
			value |= next << 4
		} else {
			value |= next
		}

		window[fatOffset] = byte(value)
		window[fatOffset+1] = byte(value >> 8)
	}
	return nil
}

// writeClusterChain16 matches fat.c's write_cluster_chain_16.
func writeClusterChain16(raw volume.Volume, p fatParams, window []byte, windowOffset *uint64, index, count uint32) error {
	fatOffset := uint64(index)*2 - *windowOffset

	for i := uint32(0); i < count; i++ {
		if err := slideWindow(raw, p, window, windowOffset, &fatOffset); err != nil {
			return err
		}

		var next uint16
		if i+1 < count {
			next = uint16(index + i + 1)
		} else {
			next = 0xFFFF
		}

		window[fatOffset] = byte(next)
		window[fatOffset+1] = byte(next >> 8)
		fatOffset += 2
	}
	return nil
}

// writeClusterChain32 matches fat.c's write_cluster_chain_32.
func writeClusterChain32(raw volume.Volume, p fatParams, window []byte, windowOffset *uint64, index, count uint32) error {
	fatOffset := uint64(index)*4 - *windowOffset

	for i := uint32(0); i < count; i++ {
		if err := slideWindow(raw, p, window, windowOffset, &fatOffset); err != nil {
			return err
		}

		var next uint32
		if i+1 < count {
			next = index + i + 1
		} else {
			next = 0xFFFFFFFF
		}
		next &= 0x0FFFFFFF

		window[fatOffset] = byte(next)
		window[fatOffset+1] = byte(next >> 8)
		window[fatOffset+2] = byte(next >> 16)
		window[fatOffset+3] = byte(next >> 24)
		fatOffset += 4
	}
	return nil
}

// buildFats writes both FAT copies: a sliding 4 KiB window walks every
// directory's cluster chain (sorted by start offset), then every file's
// (sorted by start index), flushing halves of the window to both FAT
// copies as it fills. Grounded on fat.c's fatfs_build_fats.
func buildFats(raw volume.Volume, fs *FS, tree *fstree.Tree, layouts map[*fstree.Node]*dirLayout) error {
	p := fatParams{
		fatType:        fs.fatType,
		fatStart:       fs.fatStart,
		fatSize:        uint64(fs.secsPerFat) * sectorSize,
		secsPerCluster: fs.secsPerCluster,
	}
	clusterSize := uint64(fs.secsPerCluster) * sectorSize

	if err := volume.Write(raw, p.fatStart, nil, p.fatSize); err != nil {
		return err
	}

	windowSize := uint64(fatWindowSize)
	if p.fatSize < windowSize {
		windowSize = p.fatSize
	}
	window := make([]byte, windowSize)

	var clusterFun clusterChainFunc
	switch fs.fatType {
	case fatType12:
		clusterFun = writeClusterChain12
		copy(window, []byte{0xF0, 0xFF, 0xFF})
	case fatType16:
		clusterFun = writeClusterChain16
		copy(window, []byte{0xF0, 0xFF, 0xFF, 0xFF})
	default:
		clusterFun = writeClusterChain32
		copy(window, []byte{0xF0, 0xFF, 0xFF, 0x0F, 0xFF, 0xFF, 0xFF, 0x0F})
	}

	var windowOffset uint64

	dirs := append([]*fstree.Node(nil), tree.Dirs()...)
	sort.SliceStable(dirs, func(i, j int) bool { return layouts[dirs[i]].start < layouts[dirs[j]].start })

	for _, n := range dirs {
		layout := layouts[n]
		index := clusterIndex(clusterSize, layout.start)
		count := uint32(layout.size / clusterSize)
		if layout.size%clusterSize != 0 || layout.size == 0 {
			count++
		}
		if err := clusterFun(raw, p, window, &windowOffset, index, count); err != nil {
			return err
		}
	}

	files := append([]*fstree.Node(nil), tree.Files()...)
	sort.SliceStable(files, func(i, j int) bool { return files[i].StartIndex < files[j].StartIndex })

	for _, n := range files {
		index := uint32(n.StartIndex) + clusterOffset
		count := uint32(n.Size / clusterSize)
		if n.Size%clusterSize != 0 {
			count++
		}
		if count == 0 {
			continue
		}
		if err := clusterFun(raw, p, window, &windowOffset, index, count); err != nil {
			return err
		}
	}

	return flushWindow(raw, p, window, windowOffset)
}
