package progress

import "time"

// trim drops samples older than cutoff, keeping the newest one before it as
// the window's baseline.
func trim(samples []sample, cutoff time.Time) []sample {
	i := 0
	for i < len(samples)-1 && samples[i+1].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return samples
	}
	return append(samples[:0], samples[i:]...)
}

// throughput returns bytes per second between the oldest sample and now.
func throughput(samples []sample, now time.Time, bytes int64) float64 {
	if len(samples) == 0 {
		return 0
	}
	first := samples[0]
	elapsed := now.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes-first.bytes) / elapsed
}
