package tptbm

import "fmt"

// Key addresses one vpn_users row.
type Key struct {
	ID int `json:"vpn_id"`
	NB int `json:"vpn_nb"`
}

func (k Key) String() string {
	return fmt.Sprintf("(%d,%d)", k.ID, k.NB)
}

// keyCursor walks one worker's share of the insert grid, the rows with
// vpn_id in [keys, 2*keys) that provisioning leaves empty. Worker w of n
// owns every vpn_id congruent to keys+w modulo n, so no two workers ever
// produce the same key. vpn_nb advances first; once it wraps the cursor
// moves on by the stride. The cursor restarts at its first row when it
// runs off the grid.
type keyCursor struct {
	keys   int
	stride int
	first  int
	id     int
	nb     int
}

func newKeyCursor(keys, workers, index int) keyCursor {
	first := keys + index
	return keyCursor{
		keys:   keys,
		stride: workers,
		first:  first,
		id:     first,
	}
}

func (c *keyCursor) Next() Key {
	k := Key{ID: c.id, NB: c.nb}
	c.nb++
	if c.nb == c.keys {
		c.nb = 0
		c.id += c.stride
		if c.id >= 2*c.keys {
			c.id = c.first
		}
	}
	return k
}

// Capacity is the number of distinct keys the cursor yields before it
// repeats.
func (c *keyCursor) Capacity() int {
	if c.first >= 2*c.keys {
		return 0
	}
	ids := (2*c.keys-c.first + c.stride - 1) / c.stride
	return ids * c.keys
}

func directoryNumber(k Key) string {
	return truncate(fmt.Sprintf("55%d%d", k.ID, k.NB), 10)
}

func callingParty(k Key) string {
	return truncate(fmt.Sprintf("%d%d", k.NB, k.ID), 10)
}

const initialCallingParty = "0000000000"

func description(k Key) string {
	return truncate(fmt.Sprintf("<place holder for description of VPN %d extension %d>", k.ID, k.NB), 100)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
