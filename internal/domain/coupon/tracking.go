package coupon

import (
	"encoding/binary"
	"encoding/hex"

	"lukechampine.com/blake3"
)

const trackingDomain = "coupon-tracking/v1"

// TrackingID derives the identifier binding a (coupon code, customer ID,
// order ID) triple across the client and server verification flows.
//
// The result depends only on the three inputs. Each field is length-prefixed
// so that ("ab", "c") and ("a", "bc") hash differently.
func TrackingID(code, customerID, orderID string) string {
	h := blake3.New(32, nil)
	_, _ = h.Write([]byte(trackingDomain))
	for _, field := range [...]string{code, customerID, orderID} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(field))
	}
	return "trk_" + hex.EncodeToString(h.Sum(nil))
}
