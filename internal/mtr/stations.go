// ABOUTME: Static MTR network data: lines, stations, and alias tables.
// ABOUTME: Builds the resolution tables and supports a TOML alias overlay file.

package mtr

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/2389/transit-gateway/internal/resolve"
)

// Station pairs a canonical three-letter code with its English name.
type Station struct {
	Code string
	Name string
}

// Line is one MTR line with its stations in track order.
type Line struct {
	Code     string
	Name     string
	Stations []Station
}

// Lines holds the full network. Interchange stations appear on every
// line that serves them; the alias tables dedupe on first insertion.
var Lines = []Line{
	{Code: "TKL", Name: "Tseung Kwan O Line", Stations: []Station{
		{"NOP", "North Point"}, {"QUB", "Quarry Bay"}, {"YAT", "Yau Tong"},
		{"TIK", "Tiu Keng Leng"}, {"TKO", "Tseung Kwan O"}, {"LHP", "LOHAS Park"},
		{"HAH", "Hang Hau"}, {"POA", "Po Lam"},
	}},
	{Code: "AEL", Name: "Airport Express", Stations: []Station{
		{"HOK", "Hong Kong"}, {"KOW", "Kowloon"}, {"TSY", "Tsing Yi"},
		{"AIR", "Airport"}, {"AWE", "AsiaWorld-Expo"},
	}},
	{Code: "ISL", Name: "Island Line", Stations: []Station{
		{"KET", "Kennedy Town"}, {"HKU", "HKU"}, {"SYP", "Sai Ying Pun"},
		{"SHW", "Sheung Wan"}, {"CEN", "Central"}, {"ADM", "Admiralty"},
		{"WAC", "Wan Chai"}, {"CAB", "Causeway Bay"}, {"TIH", "Tin Hau"},
		{"FOH", "Fortress Hill"}, {"NOP", "North Point"}, {"QUB", "Quarry Bay"},
		{"TAK", "Tai Koo"}, {"SWH", "Sai Wan Ho"}, {"SKW", "Shau Kei Wan"},
		{"HFC", "Heng Fa Chuen"}, {"CHW", "Chai Wan"},
	}},
	{Code: "TCL", Name: "Tung Chung Line", Stations: []Station{
		{"HOK", "Hong Kong"}, {"KOW", "Kowloon"}, {"OLY", "Olympic"},
		{"NAC", "Nam Cheong"}, {"LAK", "Lai King"}, {"TSY", "Tsing Yi"},
		{"SUN", "Sunny Bay"}, {"TUC", "Tung Chung"},
	}},
	{Code: "TML", Name: "Tuen Ma Line", Stations: []Station{
		{"WKS", "Wu Kai Sha"}, {"MOS", "Ma On Shan"}, {"HEO", "Heng On"},
		{"TSH", "Tai Shui Hang"}, {"SHM", "Shek Mun"}, {"CIO", "City One"},
		{"STW", "Sha Tin Wai"}, {"CKT", "Che Kung Temple"}, {"TAW", "Tai Wai"},
		{"HIK", "Hin Keng"}, {"DIH", "Diamond Hill"}, {"KAT", "Kai Tak"},
		{"SUW", "Sung Wong Toi"}, {"TKW", "To Kwa Wan"}, {"HOM", "Ho Man Tin"},
		{"HUH", "Hung Hom"}, {"ETS", "East Tsim Sha Tsui"}, {"AUS", "Austin"},
		{"NAC", "Nam Cheong"}, {"MEF", "Mei Foo"}, {"TWW", "Tsuen Wan West"},
		{"KSR", "Kam Sheung Road"}, {"YUL", "Yuen Long"}, {"LOP", "Long Ping"},
		{"TIS", "Tin Shui Wai"}, {"SIH", "Siu Hong"}, {"TUM", "Tuen Mun"},
	}},
	{Code: "EAL", Name: "East Rail Line", Stations: []Station{
		{"ADM", "Admiralty"}, {"EXC", "Exhibition Centre"}, {"HUH", "Hung Hom"},
		{"MKK", "Mong Kok East"}, {"KOT", "Kowloon Tong"}, {"TAW", "Tai Wai"},
		{"SHT", "Sha Tin"}, {"FOT", "Fo Tan"}, {"RAC", "Racecourse"},
		{"UNI", "University"}, {"TAP", "Tai Po Market"}, {"TWO", "Tai Wo"},
		{"FAN", "Fanling"}, {"SHS", "Sheung Shui"}, {"LOW", "Lo Wu"},
		{"LMC", "Lok Ma Chau"},
	}},
	{Code: "SIL", Name: "South Island Line", Stations: []Station{
		{"ADM", "Admiralty"}, {"OCP", "Ocean Park"}, {"WCH", "Wong Chuk Hang"},
		{"LET", "Lei Tung"}, {"SOH", "South Horizons"},
	}},
	{Code: "TWL", Name: "Tsuen Wan Line", Stations: []Station{
		{"CEN", "Central"}, {"ADM", "Admiralty"}, {"TST", "Tsim Sha Tsui"},
		{"JOR", "Jordan"}, {"YMT", "Yau Ma Tei"}, {"MOK", "Mong Kok"},
		{"PRE", "Prince Edward"}, {"SSP", "Sham Shui Po"}, {"CSW", "Cheung Sha Wan"},
		{"LCK", "Lai Chi Kok"}, {"MEF", "Mei Foo"}, {"LAK", "Lai King"},
		{"KWF", "Kwai Fong"}, {"KWH", "Kwai Hing"}, {"TWH", "Tai Wo Hau"},
		{"TSW", "Tsuen Wan"},
	}},
	{Code: "KTL", Name: "Kwun Tong Line", Stations: []Station{
		{"WHA", "Whampoa"}, {"HOM", "Ho Man Tin"}, {"YMT", "Yau Ma Tei"},
		{"MOK", "Mong Kok"}, {"PRE", "Prince Edward"}, {"SKM", "Shek Kip Mei"},
		{"KOT", "Kowloon Tong"}, {"LOF", "Lok Fu"}, {"WTS", "Wong Tai Sin"},
		{"DIH", "Diamond Hill"}, {"CHH", "Choi Hung"}, {"KOB", "Kowloon Bay"},
		{"NTK", "Ngau Tau Kok"}, {"KWT", "Kwun Tong"}, {"LAT", "Lam Tin"},
		{"YAT", "Yau Tong"}, {"TIK", "Tiu Keng Leng"},
	}},
	{Code: "DRL", Name: "Disneyland Resort Line", Stations: []Station{
		{"SUN", "Sunny Bay"}, {"DIS", "Disneyland Resort"},
	}},
}

// StationName returns the display name for a station code, or the
// code itself when unknown.
func StationName(code string) string {
	for _, line := range Lines {
		for _, sta := range line.Stations {
			if sta.Code == code {
				return sta.Name
			}
		}
	}
	return code
}

// LineName returns the display name for a line code, or the code
// itself when unknown.
func LineName(code string) string {
	for _, line := range Lines {
		if line.Code == code {
			return line.Name
		}
	}
	return code
}

// StationTable builds the alias table mapping station codes and names
// to canonical codes.
func StationTable() *resolve.Table {
	t := resolve.NewTable(nil)
	for _, line := range Lines {
		for _, sta := range line.Stations {
			t.Add(sta.Code, sta.Code)
			t.Add(sta.Name, sta.Code)
		}
	}
	return t
}

// LineTable builds the alias table mapping line codes and names to
// canonical codes. Names are also added without the trailing "Line"
// so "Tseung Kwan O" resolves as a line when passed in line position.
func LineTable() *resolve.Table {
	t := resolve.NewTable(nil)
	for _, line := range Lines {
		t.Add(line.Code, line.Code)
		t.Add(line.Name, line.Code)
		if short := strings.TrimSuffix(line.Name, " Line"); short != line.Name {
			t.Add(short, line.Code)
		}
	}
	return t
}

// aliasOverlay is the shape of the optional alias file. Keys are free
// text, values are canonical codes.
type aliasOverlay struct {
	Stations map[string]string `toml:"stations"`
	Lines    map[string]string `toml:"lines"`
}

// LoadAliasOverlay merges extra aliases from a TOML file into the
// given tables. Operators use this for local nicknames the static
// data does not carry.
func LoadAliasOverlay(path string, stations, lines *resolve.Table) error {
	var overlay aliasOverlay
	if _, err := toml.DecodeFile(path, &overlay); err != nil {
		return fmt.Errorf("loading alias overlay %s: %w", path, err)
	}
	for name, code := range overlay.Stations {
		stations.Add(name, strings.ToUpper(code))
	}
	for name, code := range overlay.Lines {
		lines.Add(name, strings.ToUpper(code))
	}
	return nil
}
