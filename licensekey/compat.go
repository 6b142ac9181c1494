package licensekey

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a reader release used to stamp and check MinReaderVersion.
type Version struct {
	Major int
	Minor int
}

var (
	// BaselineVersion is the oldest reader release still supported. Records that
	// use nothing newer carry no stamp.
	BaselineVersion = Version{Major: 2023, Minor: 0}

	// ReaderVersion is the release of this reader.
	ReaderVersion = Version{Major: 2025, Minor: 2}
)

// ParseVersion reads "major.minor" or "major".
func ParseVersion(s string) (Version, error) {
	major, minor, hasMinor := strings.Cut(strings.TrimSpace(s), ".")
	var v Version
	var err error
	if v.Major, err = strconv.Atoi(major); err != nil || v.Major < 0 {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	if hasMinor {
		if v.Minor, err = strconv.Atoi(minor); err != nil || v.Minor < 0 {
			return Version{}, fmt.Errorf("invalid version %q", s)
		}
	}
	return v, nil
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		if v.Major < o.Major {
			return -1
		}
		return 1
	case v.Minor < o.Minor:
		return -1
	case v.Minor > o.Minor:
		return 1
	}
	return 0
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// Releases that introduced values older readers reject.
var (
	typeIntroducedIn = map[LicenseType]Version{
		TypeStartup:   {2024, 2},
		TypeNonProfit: {2024, 2},
	}
	productIntroducedIn = map[Product]Version{
		ProductMetaprogramming: {2025, 1},
	}
	fieldIntroducedIn = map[FieldID]Version{
		FieldComment:  {2024, 1},
		FieldIssuedAt: {2024, 1},
	}
)

// requiredReader returns the oldest reader able to interpret every value r uses.
func requiredReader(r *Record) Version {
	need := BaselineVersion
	raise := func(v Version, ok bool) {
		if ok && v.Compare(need) > 0 {
			need = v
		}
	}
	v, ok := typeIntroducedIn[r.licenseType]
	raise(v, ok)
	v, ok = productIntroducedIn[r.product]
	raise(v, ok)
	for _, f := range r.fields {
		v, ok = fieldIntroducedIn[f.ID]
		raise(v, ok)
	}
	return need
}

// stampCompatibility returns r with MinReaderVersion raised to what r requires.
// An existing stamp is never lowered; an unparsable one is left alone.
func stampCompatibility(r *Record) *Record {
	need := requiredReader(r)
	if need.Compare(BaselineVersion) <= 0 {
		return r
	}
	if s, ok := r.MinReaderVersion(); ok {
		cur, err := ParseVersion(s)
		if err != nil || cur.Compare(need) >= 0 {
			return r
		}
	}
	return r.with(FieldMinReaderVersion, StringValue(need.String()))
}
