// Package licensekey encodes, signs and validates license keys.
//
// Install with:
//
//	go get github.com/CloudNativeWorks/cnw-licensekey/licensekey
//
// A license key is a short text string of the form "<prefix>-<body>". The body
// is a compact binary record in Base32; the prefix repeats the license id, or
// the license GUID for self-registered licenses.
//
// # Reading keys
//
// Deserialize parses a key, Validate checks its signature and business rules:
//
//	r, err := licensekey.Deserialize(key)
//	if err != nil {
//	    return err // *FormatError or *InvalidLicenseError
//	}
//	err = licensekey.Validate(r, licensekey.DefaultTrust(), licensekey.ValidationContext{
//	    Now:       time.Now(),
//	    BuildDate: buildDate,
//	})
//
// Applications that check the same key repeatedly use a Cache, which
// memoizes parsing and signature verification but always re-runs the
// time-dependent rules.
//
// # Issuing keys
//
// Issuers build a record, sign it and serialize it:
//
//	r, err := licensekey.NewBuilder(licensekey.TypePerUser, licensekey.ProductFramework).
//	    WithID(100802).
//	    SetValidTo(expiry).
//	    Build()
//	signed, err := licensekey.Sign(r, licensekey.DefaultKeyID, priv)
//	key, err := licensekey.Serialize(signed)
//
// # Compatibility
//
// Field ids below 128 must be understood by every reader; readers refuse
// records with unknown ones. Ids with bit 0x40 set carry a length byte and are
// preserved verbatim by readers that do not know them, so signatures stay
// valid across reader versions.
package licensekey
