package licensekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
)

// FingerprintEnv overrides the computed installation fingerprint, for
// containers whose hostname and interfaces change on every start.
const FingerprintEnv = "LICENSEKEY_FINGERPRINT"

// machineIDPath is read on Linux to tell apart installations that share a hostname.
var machineIDPath = "/etc/machine-id"

// fingerprintDomain separates registration fingerprints from other hashes of the same facts.
const fingerprintDomain = "licensekey registration v1"

// machineFacts are the installation properties a registration is tied to.
type machineFacts struct {
	hostname  string
	addrs     []string
	platform  string
	machineID string
}

func currentMachine() (machineFacts, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return machineFacts{}, fmt.Errorf("get hostname: %w", err)
	}
	f := machineFacts{
		hostname: hostname,
		addrs:    hardwareAddrs(),
		platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	if id, err := os.ReadFile(machineIDPath); err == nil {
		f.machineID = strings.TrimSpace(string(id))
	}
	return f, nil
}

// digest binds the facts to one license, so registrations of different
// licenses on the same machine cannot be correlated by fingerprint.
func (f machineFacts) digest(uniqueID string) string {
	h := sha256.New()
	for _, part := range []string{fingerprintDomain, uniqueID, f.hostname, strings.Join(f.addrs, ","), f.platform, f.machineID} {
		fmt.Fprintf(h, "%d:%s;", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// InstallationFingerprint identifies this machine as the holder of the license
// with the given unique id. FingerprintEnv, when set, is returned unchanged.
func InstallationFingerprint(uniqueID string) (string, error) {
	if fp := os.Getenv(FingerprintEnv); fp != "" {
		return fp, nil
	}
	facts, err := currentMachine()
	if err != nil {
		return "", err
	}
	return facts.digest(uniqueID), nil
}

// hardwareAddrs returns sorted non-loopback MAC addresses, or nil when the
// interfaces cannot be listed.
func hardwareAddrs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" {
			macs = append(macs, mac)
		}
	}
	sort.Strings(macs)
	return macs
}
