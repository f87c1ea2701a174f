// Package sweep drives a k-fold fine-tuning sweep.
//
// For each fold index 1..N, strictly in order:
//
//  1. Instantiate the fold's hyperparameter file (and, the first time, seed
//     the fold directory from the base model).
//  2. Acquire a free rendezvous port.
//  3. Launch the training process and wait for it to exit.
//  4. Exit code 0 advances to the next fold; anything else retries the same
//     fold under the retry policy.
//
// When every fold has succeeded the evaluation aggregator runs over the
// experiment root.
//
// Fold i+1 never starts before fold i's process has exited. Every attempt is
// recorded in the ledger when one is configured, which lets a later
// invocation resume the same run and skip the folds that already succeeded.
//
// A retry policy with MaxAttempts 0 retries a failing fold forever. With a
// cap, exhausting it ends the sweep with a *FoldError.
package sweep
