// Package quaternion implements a quaternion-valued fully connected layer.
//
// A feature vector of width 4k holds k quaternions as four contiguous
// component blocks:
//
//	[0, k)    real
//	[k, 2k)   i
//	[2k, 3k)  j
//	[3k, 4k)  k
//
// The layer computes y = Wx + b under the Hamilton product, where W holds
// k×n quaternion weights stored as four real (k, n) component matrices.
// The output has width 4n in the same block layout.
//
// Two realizations compute the same product. KernelRealization builds the
// full 4k×4n real kernel and does one matrix product. BlockRealization keeps
// the four component matrices apart and does sixteen smaller products,
// using less memory at the cost of more calls.
package quaternion
