package netagent

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Device describes one managed network device. Records are loaded once at
// startup and treated as read-only for the rest of the run.
type Device struct {
	Address       string `json:"address"`
	Name          string `json:"name"`
	Platform      string `json:"platform"`
	CredentialRef string `json:"credential_ref"`
}

// Inventory is the full set of known devices, keyed by address.
type Inventory struct {
	devices map[string]Device
	order   []string
}

// NewInventory builds an inventory from explicit device records. Devices
// without an address are skipped; duplicate addresses keep the first record.
func NewInventory(devices []Device) *Inventory {
	inv := &Inventory{devices: make(map[string]Device, len(devices))}
	for _, dev := range devices {
		addr := strings.TrimSpace(dev.Address)
		if addr == "" {
			continue
		}
		if _, ok := inv.devices[addr]; ok {
			continue
		}
		dev.Address = addr
		inv.devices[addr] = dev
		inv.order = append(inv.order, addr)
	}
	return inv
}

// LoadInventory reads a JSON device inventory file of the form
// {"devices": [{"address": ..., "name": ..., "platform": ..., "credential_ref": ...}]}.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read inventory file failed")
	}
	var doc struct {
		Devices []Device `json:"devices"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse inventory file %s failed", path)
	}
	if len(doc.Devices) == 0 {
		return nil, errors.Errorf("inventory file %s contains no devices", path)
	}
	return NewInventory(doc.Devices), nil
}

// Lookup returns the device record for addr.
func (inv *Inventory) Lookup(addr string) (Device, bool) {
	if inv == nil {
		return Device{}, false
	}
	dev, ok := inv.devices[strings.TrimSpace(addr)]
	return dev, ok
}

// Addresses returns all device addresses in load order.
func (inv *Inventory) Addresses() []string {
	if inv == nil {
		return nil
	}
	out := make([]string, len(inv.order))
	copy(out, inv.order)
	return out
}

// Len reports the number of devices in the inventory.
func (inv *Inventory) Len() int {
	if inv == nil {
		return 0
	}
	return len(inv.order)
}

// Credentials carries resolved transport credentials for one device.
type Credentials struct {
	Username string
	Password string
	Port     int
}

// CredentialResolver resolves a device's credential reference into transport
// credentials. Resolution failure is terminal for that device: the
// orchestrator never retries it.
type CredentialResolver interface {
	Resolve(dev Device) (Credentials, error)
}
