package simulation

// splitmix64 is the finalizer from the SplitMix64 generator. It gives
// well-distributed sub-seeds from sequential inputs.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// ChunkSeed derives a reproducible sub-seed for a chunk from the parent seed
// and the chunk index. Seeds depend only on the index, never on worker
// scheduling, so a run is reproducible regardless of execution order.
func ChunkSeed(parent uint64, chunkIndex int) uint64 {
	return splitmix64(parent ^ splitmix64(uint64(chunkIndex)+1))
}
