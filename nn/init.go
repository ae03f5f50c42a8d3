package nn

import (
	"math"
	"math/rand"
)

// XavierInit fills a conv weight tensor [outC, inC, k, k] with
// uniform Xavier values from the given source. Every run seeds its own
// source so initialization is reproducible.
func XavierInit(rng *rand.Rand, w *Tensor) {
	fanIn := 1
	fanOut := 1
	if len(w.Shape) == 4 {
		fanIn = w.Shape[1] * w.Shape[2] * w.Shape[3]
		fanOut = w.Shape[0] * w.Shape[2] * w.Shape[3]
	} else if len(w.Shape) == 2 {
		fanIn = w.Shape[1]
		fanOut = w.Shape[0]
	}
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range w.Data {
		w.Data[i] = (rng.Float64()*2 - 1) * limit
	}
}
