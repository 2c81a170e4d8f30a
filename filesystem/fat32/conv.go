package fat32

// MS-DOS epoch/ceiling in Unix seconds, matching msdosfs_conv.c's
// MSDOS_EPOCH (1980-01-01) and MSDOS_MAX_TS (2107-12-31 23:59:58).
const (
	msdosEpoch = 315532800
	msdosMaxTS = 4354819198
)

var monthDays = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// convertTimestamp packs a Unix timestamp into the 32-bit MS-DOS
// date/time pair (date in the high 16 bits, time in the low 16),
// clamping to [1980-01-01, 2107-12-31]. Grounded on
// original_source/lib/filesystem/fatfs/conv.c's fatfs_convert_timestamp.
func convertTimestamp(timestamp int64) uint32 {
	if timestamp < msdosEpoch {
		timestamp = msdosEpoch
	}
	if timestamp > msdosMaxTS {
		timestamp = msdosMaxTS
	}
	timestamp -= msdosEpoch

	daysSinceEpoch := timestamp / 86400
	secsSinceMidnight := timestamp % 86400

	hour := secsSinceMidnight / 3600
	secsSinceMidnight %= 3600
	minute := secsSinceMidnight / 60
	second := secsSinceMidnight % 60

	year := 1980
	for {
		daysInYear := int64(365)
		if isLeapYear(year) {
			daysInYear = 366
		}
		if daysSinceEpoch < daysInYear {
			break
		}
		daysSinceEpoch -= daysInYear
		year++
	}

	month := 1
	for ; month <= 12; month++ {
		daysInMonth := int64(monthDays[month-1])
		if month == 2 && isLeapYear(year) {
			daysInMonth++
		}
		if daysSinceEpoch < daysInMonth {
			break
		}
		daysSinceEpoch -= daysInMonth
	}
	day := daysSinceEpoch + 1

	var value uint32
	value |= uint32(second/2) & 0x1F
	value |= (uint32(minute) << 5) & 0x7E0
	value |= (uint32(hour) << 11) & 0xF800
	value |= (uint32(day) << 16) & 0x1F0000
	value |= (uint32(month) << 21) & 0x1E00000
	value |= (uint32(year-1980) << 25) & 0xFE000000
	return value
}
