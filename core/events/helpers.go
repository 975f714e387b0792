package events

import (
	"math/big"
	"strconv"
	"time"

	"daotreasury/crypto"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(raw [crypto.AddressLength]byte) string {
	return crypto.MemberAddress(raw).String()
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "0"
	}
	return strconv.FormatInt(ts.Unix(), 10)
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
