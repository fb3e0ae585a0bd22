// Package pool
// Author: momentics <momentics@gmail.com>
//
// Fixed-size object pooling for the timing core. SlabPool backs the timer
// wheel's entries; ObjectPool/SyncPool remain available for smaller,
// less latency-sensitive allocations elsewhere in the module.
package pool
