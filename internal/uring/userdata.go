package uring

// The 64-bit user data attached to each submission is split as
// fd (32 bits) | op tag (8 bits) | correlation id (24 bits).
const (
	// IDBits is the width of the correlation id field.
	IDBits = 24
	// IDMask masks the correlation id field.
	IDMask = 1<<IDBits - 1
)

// PackUserData encodes a completion's routing information.
func PackUserData(fd int32, op uint8, id uint32) uint64 {
	return uint64(uint32(fd))<<32 | uint64(op)<<IDBits | uint64(id&IDMask)
}

// UnpackUserData is the inverse of PackUserData.
func UnpackUserData(v uint64) (fd int32, op uint8, id uint32) {
	return int32(uint32(v >> 32)), uint8(v >> IDBits), uint32(v & IDMask)
}
