package ol

const (
	fnvOffset = 2166136261
	fnvPrime  = 16777619
)

func fnvString(h uint32, s string) uint32 {
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

// IDHasher lets ids key persistent maps. String-kind keys use immutable's default hasher.
type IDHasher struct{}

func (IDHasher) Hash(id ID) uint32 {
	h := fnvString(fnvOffset, string(id.Actor))
	c := id.Counter
	for i := 0; i < 8; i++ {
		h ^= uint32(c & 0xff)
		h *= fnvPrime
		c >>= 8
	}
	return h
}

func (IDHasher) Equal(a, b ID) bool {
	return a == b
}
