package quran

import (
	"context"
	"strings"
	"sync"
)

// Lookup resolves a reference to its canonical Arabic text.
//
// Absence is not an error: a reference that cannot be resolved yields
// found=false, and the correction engine turns that into a zero-score result
// rather than a failure.
type Lookup interface {
	// Resolve returns the canonical text for ref. found is false when the
	// reference is unknown to this lookup.
	Resolve(ctx context.Context, ref Reference) (text string, found bool, err error)
}

// TableLookup is an in-memory [Lookup] backed by a fixed table. It serves as
// the offline seed corpus and as the test double for the caching layers.
type TableLookup struct {
	mu    sync.RWMutex
	texts map[string]string // Reference.Key() → text, single ayahs only
}

// Compile-time interface check.
var _ Lookup = (*TableLookup)(nil)

// NewTableLookup creates a table lookup seeded with the given single-ayah
// entries, keyed by [Reference.Key].
func NewTableLookup(entries map[Reference]string) *TableLookup {
	t := &TableLookup{texts: make(map[string]string, len(entries))}
	for ref, text := range entries {
		t.texts[ref.Key()] = text
	}
	return t
}

// Add inserts or replaces the text for a single ayah.
func (t *TableLookup) Add(ref Reference, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts[ref.Key()] = text
}

// Resolve implements [Lookup]. Ranges are resolved ayah by ayah and joined
// with a single space; the whole range must be present for found to be true.
func (t *TableLookup) Resolve(_ context.Context, ref Reference) (string, bool, error) {
	if err := ref.Validate(); err != nil {
		return "", false, nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	end := ref.EndAyah
	if end == 0 {
		end = ref.Ayah
	}
	parts := make([]string, 0, end-ref.Ayah+1)
	for ayah := ref.Ayah; ayah <= end; ayah++ {
		text, ok := t.texts[Reference{Surah: ref.Surah, Ayah: ayah}.Key()]
		if !ok {
			return "", false, nil
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " "), true, nil
}

// Fatiha returns a table lookup pre-seeded with surah al-Fatiha, the default
// practice passage when no corpus has been cached yet.
func Fatiha() *TableLookup {
	return NewTableLookup(map[Reference]string{
		{Surah: 1, Ayah: 1}: "بسم الله الرحمن الرحيم",
		{Surah: 1, Ayah: 2}: "الحمد لله رب العالمين",
		{Surah: 1, Ayah: 3}: "الرحمن الرحيم",
		{Surah: 1, Ayah: 4}: "مالك يوم الدين",
		{Surah: 1, Ayah: 5}: "إياك نعبد وإياك نستعين",
		{Surah: 1, Ayah: 6}: "اهدنا الصراط المستقيم",
		{Surah: 1, Ayah: 7}: "صراط الذين أنعمت عليهم غير المغضوب عليهم ولا الضالين",
	})
}
