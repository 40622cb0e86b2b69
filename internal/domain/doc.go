// Package domain models GHCN-Daily station reference data and daily temperature
// observations.
//
// # Data Source
//
// Raw files come from the NOAA NCEI Global Historical Climatology Network Daily
// archive (https://www.ncei.noaa.gov/pub/data/ghcn/daily/). Three files feed the
// pipeline: the station registry (ghcnd-stations.txt), the element inventory
// (ghcnd-inventory.txt), and one .dly file per station under all/.
//
// # GHCN File Conventions
//
// Station registry (fixed width, 0-based byte offsets):
//
//	[0,11)  station id    e.g. "GME00121150"
//	[12,20) latitude      decimal degrees
//	[21,30) longitude     decimal degrees
//	[31,37) elevation     metres
//	[38,40) state         US/Canada only
//	[41,71) name          e.g. "KONSTANZ"
//
// Inventory, one row per (station, element):
//
//	[0,11) id | [12,20) lat | [21,30) lon | [31,35) element | [36,40) first year | [41,45) last year
//
// The inventory is also published whitespace-delimited; both variants are read.
//
// Daily (.dly), one line per (station, year, month, element):
//
//	[0,11) id | [11,15) year | [15,17) month | [17,21) element
//	then 31 day slots of 8 bytes: VALUE(5) MFLAG(1) QFLAG(1) SFLAG(1)
//
// Temperatures are in tenths of a degree Celsius. "-9999" is the sentinel for
// a day that was not observed (including slots past the end of short months).
//
// # Derived Tables
//
// InventoryEntry rows keep only TMAX and TMIN and are unique per
// (station, element). Station rows collapse a station's entries into one
// coverage window: the later first year and the earlier last year, since a
// station is usable for temperature comparison only while both elements run.
//
// Monthly means average cleaned daily values; yearly means average the monthly
// means. All derived values are rounded to two decimals with [Round2].
package domain
