package fat32

import (
	"encoding/binary"

	"github.com/imgtool-go/imgtool/volume"
)

// Wire-format constants. Grounded on fatfs.h.
const (
	sectorSize         = 512
	fat32ReservedCount = 32
	fat32FatStart      = fat32ReservedCount * sectorSize

	maxDiskSize     = 1024 * 1024 * 1024 * 1024 // 1 TiB, per fatfs.h's MAX_DISK_SIZE
	fat32MinSectors = 66000

	ibmBootMagic       = 0xAA55
	magicVolumeID      = 0xDECAFBAD
	fatBootSigMagic    = 0x29
	fatDriveNumber     = 0x80
	infoMagic1         = 0x41615252
	infoMagic2         = 0x61417272
	infoMagic3         = uint32(0xAA550000)
	fatBSCopyIndex     = 6
	fatFSInfoIndex     = 1
	fatMediaDescriptor = 0xF8
)

const superBlockSize = 512

// writeSuperBlock serializes the FAT32 boot sector at absolute byte 0
// of raw, plus an identical backup copy at sector fatBSCopyIndex.
// Grounded on super.c's write_super_block_fat32.
func writeSuperBlock(raw volume.Volume, fs *FS, sectorCount uint32) error {
	var b [superBlockSize]byte

	b[0], b[1], b[2] = 0xEB, 0xFE, 0x90
	for i := 3; i < 11; i++ {
		b[i] = ' '
	}
	copy(b[3:11], fs.oem)

	binary.LittleEndian.PutUint16(b[11:13], sectorSize)
	b[13] = byte(fs.secsPerCluster)
	binary.LittleEndian.PutUint16(b[14:16], fat32ReservedCount)
	b[16] = 2 // num_fats
	b[21] = fatMediaDescriptor

	binary.LittleEndian.PutUint16(b[24:26], 1) // sectors_per_track
	binary.LittleEndian.PutUint16(b[26:28], 1) // heads_per_disk
	binary.LittleEndian.PutUint32(b[32:36], sectorCount)

	binary.LittleEndian.PutUint32(b[36:40], fs.secsPerFat)
	// mirror_flags (40:42) left zero: both FATs are kept in sync.
	// version (42:44) left zero.
	binary.LittleEndian.PutUint32(b[44:48], clusterOffset) // root_dir_index
	binary.LittleEndian.PutUint16(b[48:50], fatFSInfoIndex)
	binary.LittleEndian.PutUint16(b[50:52], fatBSCopyIndex)

	b[64] = fatDriveNumber
	b[66] = fatBootSigMagic
	binary.LittleEndian.PutUint32(b[67:71], magicVolumeID)

	for i := 71; i < 82; i++ {
		b[i] = ' '
	}
	copy(b[71:82], fs.label)
	copy(b[82:90], "FAT32   ")

	for i := 90; i < 510; i++ {
		b[i] = 0x90
	}
	binary.LittleEndian.PutUint16(b[510:512], ibmBootMagic)

	if err := volume.Write(raw, 0, b[:], superBlockSize); err != nil {
		return err
	}
	return volume.Write(raw, fatBSCopyIndex*sectorSize, b[:], superBlockSize)
}

// writeFSInfoBlock serializes the FSInfo sector at absolute sector 1 of
// raw. Grounded on super.c's write_fs_info_block.
func writeFSInfoBlock(raw volume.Volume, fs *FS, sectorCount uint32, dataOffsetClusters uint64) error {
	var b [superBlockSize]byte

	clusterCount := sectorCount - fat32FatStart/sectorSize
	clusterCount -= fs.secsPerFat * 2
	clusterCount /= fs.secsPerCluster

	freeCount := clusterCount - uint32(dataOffsetClusters)
	nextFree := uint32(dataOffsetClusters) + clusterOffset

	binary.LittleEndian.PutUint32(b[0:4], infoMagic1)
	binary.LittleEndian.PutUint32(b[484:488], infoMagic2)
	binary.LittleEndian.PutUint32(b[488:492], freeCount)
	binary.LittleEndian.PutUint32(b[492:496], nextFree)
	binary.LittleEndian.PutUint32(b[508:512], infoMagic3)

	return volume.Write(raw, fatFSInfoIndex*sectorSize, b[:], superBlockSize)
}

// writeSuperAndInfo writes the boot sector (plus backup) and the
// FSInfo sector, in that order. Grounded on super.c's
// fatfs_write_super_block.
func writeSuperAndInfo(raw volume.Volume, fs *FS, dataOffsetClusters uint64) error {
	size := rawSize(raw)
	if size > maxDiskSize {
		size = maxDiskSize
	}
	sectorCount := uint32(size / sectorSize)

	if err := writeSuperBlock(raw, fs, sectorCount); err != nil {
		return err
	}
	return writeFSInfoBlock(raw, fs, sectorCount, dataOffsetClusters)
}

func rawSize(v volume.Volume) uint64 {
	size := v.GetMaxBlockCount() * uint64(v.Blocksize())
	if size == 0 {
		return maxDiskSize
	}
	return size
}
