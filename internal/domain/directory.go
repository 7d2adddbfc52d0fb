package domain

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Errors surfaced when addressing contacts.
var (
	ErrContactInvalid  = errors.New("contact reference is not recognizable")
	ErrContactNotFound = errors.New("contact is not in the directory")
)

// Directory is the in-memory cache of device-side identity state: self info,
// firmware info and the contact list. The session goroutine is the only
// writer; readers are the API handlers.
type Directory struct {
	mu       sync.RWMutex
	self     SelfIdentity
	hasSelf  bool
	device   DeviceInfo
	contacts map[string]Contact
}

func NewDirectory() *Directory {
	return &Directory{contacts: make(map[string]Contact)}
}

func (d *Directory) SetSelf(self SelfIdentity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.self = self
	d.hasSelf = true
}

// SetSelfName updates only the owner name, after a successful rename.
func (d *Directory) SetSelfName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.self.Name = name
}

func (d *Directory) Self() (SelfIdentity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.self, d.hasSelf
}

// SelfID returns the local node id, or the unknown placeholder before the
// handshake has completed.
func (d *Directory) SelfID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.hasSelf || d.self.ID == "" {
		return UnknownSelfID
	}

	return d.self.ID
}

func (d *Directory) SetDevice(info DeviceInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.device = info
}

func (d *Directory) Device() DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.device
}

// ReplaceContacts installs a freshly synced contact list, dropping entries
// that are no longer present on the device.
func (d *Directory) ReplaceContacts(contacts []Contact) {
	next := make(map[string]Contact, len(contacts))
	for _, c := range contacts {
		next[c.ID] = c
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts = next
}

func (d *Directory) UpsertContact(c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[c.ID] = c
}

// Contacts returns the directory sorted by display name.
func (d *Directory) Contacts() []Contact {
	d.mu.RLock()
	out := make([]Contact, 0, len(d.contacts))
	for _, c := range d.contacts {
		out = append(out, c)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}

		return out[i].ID < out[j].ID
	})

	return out
}

func (d *Directory) Contact(id string) (Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[id]

	return c, ok
}

// NormalizeID resolves any accepted contact spelling to the canonical id.
// Key-like values normalize without a directory lookup; anything else is
// matched against known ids and names. A name shared by several contacts
// resolves to the one heard most recently.
func (d *Directory) NormalizeID(raw string) (string, error) {
	if id, ok := CanonicalID(raw); ok {
		return id, nil
	}

	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, "mc:")
	if value == "" {
		return "", ErrContactInvalid
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		best      Contact
		bestFound bool
	)
	for id, c := range d.contacts {
		idLow := strings.ToLower(id)
		if value == idLow || value == strings.TrimPrefix(idLow, "!") || value == strings.ToLower(c.Name) {
			if !bestFound || c.LastAdvert > best.LastAdvert {
				best = c
				bestFound = true
			}
		}
	}
	if !bestFound {
		return "", ErrContactInvalid
	}

	return best.ID, nil
}

// PrefixFor returns the routing prefix for a canonical contact id.
func (d *Directory) PrefixFor(id string) ([6]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.contacts[id]
	if !ok {
		return [6]byte{}, ErrContactNotFound
	}

	return c.Prefix, nil
}

// Reset drops all cached state, for a clean handshake after a target swap.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.self = SelfIdentity{}
	d.hasSelf = false
	d.device = DeviceInfo{}
	d.contacts = make(map[string]Contact)
}
