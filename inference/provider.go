package inference

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Provider is an onnxruntime execution provider.
type Provider string

const (
	// ProviderCPU runs on the default CPU provider.
	ProviderCPU Provider = "cpu"
	// ProviderCUDA uses NVIDIA CUDA.
	ProviderCUDA Provider = "cuda"
	// ProviderCoreML uses Apple CoreML.
	ProviderCoreML Provider = "coreml"
	// ProviderOpenVINO uses Intel OpenVINO.
	ProviderOpenVINO Provider = "openvino"
)

// ParseProvider maps a name to a Provider. Empty means cpu.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case "":
		return ProviderCPU, nil
	case ProviderCPU, ProviderCUDA, ProviderCoreML, ProviderOpenVINO:
		return p, nil
	default:
		return "", errors.Errorf("unknown execution provider %q", name)
	}
}

// providerOptions is the option map handed to onnxruntime for a provider.
//
// See:
//   - https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
//   - https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
func providerOptions(p Provider, device string, threads int) map[string]string {
	switch p {
	case ProviderCUDA:
		if device == "" {
			device = "0"
		}
		return map[string]string{
			"device_id":                 device,
			"do_copy_in_default_stream": "1",
		}
	case ProviderOpenVINO:
		if device == "" {
			device = "CPU"
		}
		opts := map[string]string{"device_type": device}
		if threads > 0 {
			opts["num_of_threads"] = strconv.Itoa(threads)
		}
		return opts
	default:
		return nil
	}
}

// appendProvider enables the execution provider on the session options.
func appendProvider(options *ort.SessionOptions, opts Options) error {
	p, err := ParseProvider(opts.Provider)
	if err != nil {
		return errors.Wrap(ErrModelLoad, err.Error())
	}

	switch p {
	case ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrapf(ErrModelLoad, "cuda options: %v", err)
		}
		defer cuda.Destroy()
		if err := cuda.Update(providerOptions(p, opts.Device, opts.Threads)); err != nil {
			return errors.Wrapf(ErrModelLoad, "cuda options: %v", err)
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrapf(ErrModelLoad, "enable cuda: %v", err)
		}
	case ProviderCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return errors.Wrapf(ErrModelLoad, "enable coreml: %v", err)
		}
	case ProviderOpenVINO:
		if err := options.AppendExecutionProviderOpenVINO(providerOptions(p, opts.Device, opts.Threads)); err != nil {
			return errors.Wrapf(ErrModelLoad, "enable openvino: %v", err)
		}
	}
	return nil
}
