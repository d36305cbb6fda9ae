// Package quran resolves references to canonical Quranic text.
//
// A [Reference] names a surah plus an ayah or ayah range. The [Lookup]
// interface turns a reference into the canonical Arabic text the correction
// engine scores against; implementations range from a static in-memory table
// to a store-backed cache populated from a remote source.
package quran

import (
	"fmt"
	"strconv"
)

// SurahCount is the number of surahs in the Quran.
const SurahCount = 114

// Reference identifies a surah and an ayah or contiguous ayah range.
type Reference struct {
	// Surah is the surah number, 1 through 114.
	Surah int `json:"surah"`

	// Ayah is the first (or only) ayah of the reference, 1-based.
	Ayah int `json:"ayah"`

	// EndAyah is the last ayah of the range, inclusive. Zero means the
	// reference names the single ayah in Ayah.
	EndAyah int `json:"end_ayah,omitempty"`
}

// Validate reports whether the reference is structurally sound: surah in
// range, ayah positive, and any range end not before its start. It does not
// verify the ayah exists within the surah; lookups handle that.
func (r Reference) Validate() error {
	if r.Surah < 1 || r.Surah > SurahCount {
		return fmt.Errorf("quran: surah %d out of range [1, %d]", r.Surah, SurahCount)
	}
	if r.Ayah < 1 {
		return fmt.Errorf("quran: ayah %d must be positive", r.Ayah)
	}
	if r.EndAyah != 0 && r.EndAyah < r.Ayah {
		return fmt.Errorf("quran: range end %d before start %d", r.EndAyah, r.Ayah)
	}
	return nil
}

// Key returns the canonical store key for this reference, e.g. "quran:1:1"
// or "quran:2:255-257" for a range. Used for both cache entries and session
// metadata.
func (r Reference) Key() string {
	if r.EndAyah != 0 && r.EndAyah != r.Ayah {
		return "quran:" + strconv.Itoa(r.Surah) + ":" + strconv.Itoa(r.Ayah) + "-" + strconv.Itoa(r.EndAyah)
	}
	return "quran:" + strconv.Itoa(r.Surah) + ":" + strconv.Itoa(r.Ayah)
}

// String returns a human-readable form such as "1:1" or "2:255-257".
func (r Reference) String() string {
	if r.EndAyah != 0 && r.EndAyah != r.Ayah {
		return fmt.Sprintf("%d:%d-%d", r.Surah, r.Ayah, r.EndAyah)
	}
	return fmt.Sprintf("%d:%d", r.Surah, r.Ayah)
}
