package connectivity

// Bucket classifies a port number into one of four fixed ranges.
type Bucket int

const (
	BucketXLow Bucket = iota // [0, 16384)
	BucketLow                // [16384, 32768)
	BucketMed                // [32768, 49151)
	BucketHigh               // [49151, inf)
)

func (b Bucket) String() string {
	switch b {
	case BucketXLow:
		return "x-low"
	case BucketLow:
		return "low"
	case BucketMed:
		return "med"
	default:
		return "high"
	}
}

// BucketOf returns the bucket port falls in.
func BucketOf(port int) Bucket {
	switch {
	case port < 16384:
		return BucketXLow
	case port < 32768:
		return BucketLow
	case port < 49151:
		return BucketMed
	default:
		return BucketHigh
	}
}

// HasLowPort reports whether any port is in the low bucket, which is the
// acceptance condition for a connectivity attempt.
func HasLowPort(ports []int) bool {
	for _, port := range ports {
		if BucketOf(port) == BucketLow {
			return true
		}
	}
	return false
}

// Buckets maps ports to their bucket names, for logging.
func Buckets(ports []int) []string {
	names := make([]string, len(ports))
	for i, port := range ports {
		names[i] = BucketOf(port).String()
	}
	return names
}
