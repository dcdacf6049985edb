//go:build js && wasm

// Command wasm exposes the denoiser to the browser. JavaScript loads the
// weights once with loadDenoiser and then calls denoise on decoded audio.
package main

import (
	"bytes"
	"fmt"
	"syscall/js"

	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/audio"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/denoiser"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorModelNotLoaded
	ErrorWeights
	ErrorResample
	ErrorInference
)

var network *denoiser.Network

// loadDenoiser(weights: Uint8Array) -> {error, data}
func loadDenoiser(this js.Value, args []js.Value) any {
	if len(args) < 1 || args[0].Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 1 argument: weights (Uint8Array)")
	}
	raw := make([]byte, args[0].Get("length").Int())
	js.CopyBytesToGo(raw, args[0])

	net, err := denoiser.Load(bytes.NewReader(raw))
	if err != nil {
		return makeErrorResponse(ErrorWeights, fmt.Sprintf("Failed to load weights: %v", err))
	}
	network = net

	info := js.Global().Get("Object").New()
	info.Set("parameters", net.NumParams())
	info.Set("sampleRate", audio.DefaultSampleRate)
	return makeResponse(info)
}

// denoise(samples: Float32Array | Array, sampleRate: number, channels: number)
// -> {error, data: Float32Array}. The result is mono at the input rate.
func denoise(this js.Value, args []js.Value) any {
	if network == nil {
		return makeErrorResponse(ErrorModelNotLoaded, "Call loadDenoiser first")
	}
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 3 arguments: samples, sampleRate, channels")
	}
	samplesJS, sampleRateJS, channelsJS := args[0], args[1], args[2]
	if samplesJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "samples must be an Array or Float32Array")
	}
	if sampleRateJS.Type() != js.TypeNumber || channelsJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "sampleRate and channels must be numbers")
	}

	sampleRate := sampleRateJS.Int()
	channels := channelsJS.Int()
	if sampleRate <= 0 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid sample rate: %d", sampleRate))
	}
	if channels < 1 || channels > 2 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Channels must be 1 (mono) or 2 (stereo), got: %d", channels))
	}

	length := samplesJS.Length()
	if length == 0 {
		return makeErrorResponse(ErrorInvalidArgs, "samples is empty")
	}
	samples := make([]float32, length)
	for i := 0; i < length; i++ {
		samples[i] = float32(samplesJS.Index(i).Float())
	}
	if channels == 2 {
		samples = stereoToMono(samples)
	}

	input, err := audio.Resample(samples, sampleRate, audio.DefaultSampleRate)
	if err != nil {
		return makeErrorResponse(ErrorResample, err.Error())
	}
	out, err := network.Denoise(input)
	if err != nil {
		return makeErrorResponse(ErrorInference, err.Error())
	}
	out, err = audio.Resample(out, audio.DefaultSampleRate, sampleRate)
	if err != nil {
		return makeErrorResponse(ErrorResample, err.Error())
	}

	result := js.Global().Get("Float32Array").New(len(out))
	for i, v := range out {
		result.SetIndex(i, v)
	}
	return makeResponse(result)
}

func stereoToMono(stereo []float32) []float32 {
	mono := make([]float32, len(stereo)/2)
	for i := range mono {
		mono[i] = (stereo[i*2] + stereo[i*2+1]) / 2
	}
	return mono
}

func makeResponse(data any) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", data)
	return result
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")
	logf := func(method, format string, args ...any) {
		if !console.IsUndefined() {
			console.Call(method, fmt.Sprintf(format, args...))
		}
	}

	js.Global().Set("loadDenoiser", js.FuncOf(loadDenoiser))
	js.Global().Set("denoise", js.FuncOf(denoise))
	logf("log", "NoiseReducer WASM module registered loadDenoiser and denoise")

	window := js.Global().Get("window")
	if window.IsUndefined() {
		logf("error", "window object is undefined")
	} else {
		event := js.Global().Get("CustomEvent").New("wasmReady", js.Global().Get("Object").New())
		window.Call("dispatchEvent", event)
	}

	select {}
}
