// Package hparams builds the per-fold hyperparameter file consumed by the
// training script.
//
// A Fold is an immutable value derived from Params for one fold index. Its
// Render method substitutes the literal placeholders of a template:
//
//	data_dir_PLACEHOLDER         <data_root>/Fold_<i>
//	train_flag_PLACEHOLDER       True | False
//	FT_start_PLACEHOLDER         True | False (reset learning rate)
//	epochs_PLACEHOLDER           total epochs
//	frid_fold_PLACEHOLDER        fold index
//	output_PLACEHOLDER           <experiment_root>/Fold-<i>
//	output_neurons_PLACEHOLDER   output neuron count
//	lr_PLACEHOLDER               learning rate
//	freeze_ARCH_PLACEHOLDER      True | False
//	loss_asr_weight_PLACEHOLDER  ASR vs paraphasia loss weight in [0,1]
//
// Values are formatted the way the hyperparameter loader expects them:
// booleans as True/False and floats in their shortest decimal form.
//
// Rendered text is content-addressed by Hash, which NFC-normalizes the text
// and applies SHA-256 with a domain prefix.
package hparams
