package allowlist

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"crisisguard/internal/domain"
)

//go:embed bundled.json
var bundledJSON []byte

var (
	bundledOnce sync.Once
	bundled     domain.Allowlist
	bundledErr  error
)

// Bundled returns the allowlist shipped inside the binary. It never expires
// and only changes with a new build. The returned value shares no memory
// with the package copy.
func Bundled() domain.Allowlist {
	bundledOnce.Do(func() {
		bundled, bundledErr = Parse(bundledJSON)
	})
	if bundledErr != nil {
		// a broken build artifact; TestBundled catches this before release
		panic(fmt.Sprintf("bundled allowlist: %v", bundledErr))
	}
	return Clone(bundled)
}

// Parse decodes and validates an allowlist document.
func Parse(data []byte) (domain.Allowlist, error) {
	var a domain.Allowlist
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.Allowlist{}, fmt.Errorf("%w: %v", domain.ErrInvalidAllowlist, err)
	}
	if err := domain.ValidateAllowlist(a); err != nil {
		return domain.Allowlist{}, err
	}
	return a, nil
}

func Clone(a domain.Allowlist) domain.Allowlist {
	out := a
	out.Entries = make([]domain.CrisisResourceEntry, len(a.Entries))
	for i, e := range a.Entries {
		out.Entries[i] = cloneEntry(e)
	}
	return out
}

func cloneEntry(e domain.CrisisResourceEntry) domain.CrisisResourceEntry {
	e.Aliases = append([]string(nil), e.Aliases...)
	e.WildcardPatterns = append([]string(nil), e.WildcardPatterns...)
	e.ContactMethods = append([]domain.ContactMethod(nil), e.ContactMethods...)
	return e
}
