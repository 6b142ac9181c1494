package licensekey

import "fmt"

// LicenseType is the kind of entitlement a license grants.
// Values are part of the wire format and are never renumbered.
type LicenseType uint8

const (
	TypeNone                     LicenseType = 0
	TypeEvaluation               LicenseType = 1
	TypePerUser                  LicenseType = 2
	TypeSite                     LicenseType = 3
	TypeGlobal                   LicenseType = 4
	TypeAcademic                 LicenseType = 5
	TypeCommercialRedistribution LicenseType = 6
	TypeOpenSourceRedistribution LicenseType = 7
	// TypeAnonymous is the legacy sentinel: always valid, confers no rights.
	TypeAnonymous    LicenseType = 8
	TypeEnterprise   LicenseType = 9  // retired
	TypeProfessional LicenseType = 10 // retired
	TypeInternal     LicenseType = 11
	TypePerUsage     LicenseType = 12
	TypeCommunity    LicenseType = 13
	TypeUnattended   LicenseType = 14
	TypeUnmodified   LicenseType = 15
	TypePersonal     LicenseType = 16 // retired
	TypeEducation    LicenseType = 17 // retired, superseded by TypeAcademic
	TypeStartup      LicenseType = 18
	TypeNonProfit    LicenseType = 19
)

var licenseTypeNames = map[LicenseType]string{
	TypeEvaluation:               "Evaluation",
	TypePerUser:                  "Per User",
	TypeSite:                     "Site",
	TypeGlobal:                   "Global",
	TypeAcademic:                 "Academic",
	TypeCommercialRedistribution: "Commercial Redistribution",
	TypeOpenSourceRedistribution: "Open Source Redistribution",
	TypeAnonymous:                "Anonymous",
	TypeEnterprise:               "Enterprise",
	TypeProfessional:             "Professional",
	TypeInternal:                 "Internal",
	TypePerUsage:                 "Per Usage",
	TypeCommunity:                "Community",
	TypeUnattended:               "Unattended",
	TypeUnmodified:               "Unmodified",
	TypePersonal:                 "Personal",
	TypeEducation:                "Education",
	TypeStartup:                  "Startup",
	TypeNonProfit:                "Non-Profit",
}

// IsKnown reports whether t belongs to the vocabulary of this reader.
// Unknown values still decode; they just never validate.
func (t LicenseType) IsKnown() bool {
	_, ok := licenseTypeNames[t]
	return ok
}

// IsRetired reports whether new licenses of this type are no longer issued.
func (t LicenseType) IsRetired() bool {
	switch t {
	case TypeEnterprise, TypeProfessional, TypePersonal, TypeEducation:
		return true
	}
	return false
}

func (t LicenseType) String() string {
	if name, ok := licenseTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("LicenseType(%d)", uint8(t))
}

// ParseLicenseType resolves a display name or a compact name ("PerUser") to a LicenseType.
func ParseLicenseType(s string) (LicenseType, error) {
	for t, name := range licenseTypeNames {
		if equalFoldCompact(s, name) {
			return t, nil
		}
	}
	return TypeNone, fmt.Errorf("unknown license type %q", s)
}

// Product identifies the commercial product a license entitles.
type Product uint8

const (
	ProductNone            Product = 0
	ProductFramework       Product = 1
	ProductUltimate        Product = 2
	ProductDiagnostics     Product = 3
	ProductThreading       Product = 4
	ProductModel           Product = 5
	ProductCaching         Product = 6
	ProductPatternsBundle  Product = 7
	ProductCommunity       Product = 8
	ProductLogging         Product = 9
	ProductMetaprogramming Product = 10
)

var productNames = map[Product]string{
	ProductFramework:       "Framework",
	ProductUltimate:        "Ultimate",
	ProductDiagnostics:     "Diagnostics Library",
	ProductThreading:       "Threading Library",
	ProductModel:           "Model Library",
	ProductCaching:         "Caching Library",
	ProductPatternsBundle:  "Patterns Bundle",
	ProductCommunity:       "Community",
	ProductLogging:         "Logging Library",
	ProductMetaprogramming: "Metaprogramming",
}

// IsKnown reports whether p belongs to the vocabulary of this reader.
func (p Product) IsKnown() bool {
	_, ok := productNames[p]
	return ok
}

func (p Product) String() string {
	if name, ok := productNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Product(%d)", uint8(p))
}

// ParseProduct resolves a display name or a compact name ("DiagnosticsLibrary") to a Product.
func ParseProduct(s string) (Product, error) {
	for p, name := range productNames {
		if equalFoldCompact(s, name) {
			return p, nil
		}
	}
	return ProductNone, fmt.Errorf("unknown product %q", s)
}

// Types and products that may be created without the issuer's private key.
var (
	unsignedTypes = map[LicenseType]bool{
		TypeAnonymous:  true,
		TypeEvaluation: true,
		TypeCommunity:  true,
	}
	unsignedProducts = map[Product]bool{
		ProductCommunity: true,
	}
)

func equalFoldCompact(a, b string) bool {
	return compactName(a) == compactName(b)
}

func compactName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c)
		case c >= 'A' && c <= 'Z':
			out = append(out, c+'a'-'A')
		case c >= '0' && c <= '9':
			out = append(out, c)
		}
	}
	return string(out)
}
