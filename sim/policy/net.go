package policy

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Layer is one fully connected layer; W is outDim x inDim.
type Layer struct {
	W *mat.Dense
	B []float64
}

// OutDim returns the layer's output width.
func (l *Layer) OutDim() int {
	r, _ := l.W.Dims()
	return r
}

// InDim returns the layer's input width.
func (l *Layer) InDim() int {
	_, c := l.W.Dims()
	return c
}

// Net is a fully connected network with ReLU hidden activations and a
// linear output layer. The policy head shaping lives in Params, not here.
type Net struct {
	Layers []*Layer
}

// NewNet builds a network over the given widths (input, hidden..., output)
// with fan-in scaled uniform weights and zero biases. outGain additionally
// scales the output layer so a freshly initialized policy acts near zero.
// The rng draw order is fixed, so identical seeds give identical networks.
func NewNet(widths []int, rng *rand.Rand, initScale, outGain float64) *Net {
	layers := make([]*Layer, len(widths)-1)
	for l := 0; l < len(widths)-1; l++ {
		in, out := widths[l], widths[l+1]
		gain := initScale
		if l == len(widths)-2 {
			gain *= outGain
		}
		bound := gain / math.Sqrt(float64(in))
		w := mat.NewDense(out, in, nil)
		for r := 0; r < out; r++ {
			for c := 0; c < in; c++ {
				w.Set(r, c, (2*rng.Float64()-1)*bound)
			}
		}
		layers[l] = &Layer{W: w, B: make([]float64, out)}
	}
	return &Net{Layers: layers}
}

// Clone deep-copies the network.
func (n *Net) Clone() *Net {
	layers := make([]*Layer, len(n.Layers))
	for i, l := range n.Layers {
		layers[i] = &Layer{
			W: mat.DenseCopyOf(l.W),
			B: append([]float64(nil), l.B...),
		}
	}
	return &Net{Layers: layers}
}

// NumParams returns the total scalar parameter count.
func (n *Net) NumParams() int {
	total := 0
	for _, l := range n.Layers {
		r, c := l.W.Dims()
		total += r*c + len(l.B)
	}
	return total
}

// Cache holds the forward activations needed by Backward. acts[0] is the
// input batch; acts[l] is layer l-1's post-activation output.
type Cache struct {
	acts []*mat.Dense
}

// Forward runs X (rows x inDim) through the network and returns the output
// (rows x outDim) together with the cache for Backward.
func (n *Net) Forward(X *mat.Dense) (*mat.Dense, *Cache) {
	cache := &Cache{acts: make([]*mat.Dense, 0, len(n.Layers)+1)}
	cache.acts = append(cache.acts, X)
	h := X
	for l, layer := range n.Layers {
		rows, _ := h.Dims()
		out := layer.OutDim()
		z := mat.NewDense(rows, out, nil)
		z.Mul(h, layer.W.T())
		last := l == len(n.Layers)-1
		for r := 0; r < rows; r++ {
			for c := 0; c < out; c++ {
				v := z.At(r, c) + layer.B[c]
				if !last && v < 0 {
					v = 0
				}
				z.Set(r, c, v)
			}
		}
		cache.acts = append(cache.acts, z)
		h = z
	}
	return h, cache
}

// LayerGrad matches a Layer's shapes.
type LayerGrad struct {
	DW *mat.Dense
	DB []float64
}

// NewLayerGrads allocates zeroed gradients shaped like the network.
func (n *Net) NewLayerGrads() []*LayerGrad {
	grads := make([]*LayerGrad, len(n.Layers))
	for i, l := range n.Layers {
		r, c := l.W.Dims()
		grads[i] = &LayerGrad{DW: mat.NewDense(r, c, nil), DB: make([]float64, len(l.B))}
	}
	return grads
}

// Backward propagates dOut, the loss gradient at the network output, and
// returns per-layer parameter gradients. The ReLU subgradient at zero is
// taken as zero.
func (n *Net) Backward(cache *Cache, dOut *mat.Dense) []*LayerGrad {
	grads := make([]*LayerGrad, len(n.Layers))
	dZ := dOut
	for l := len(n.Layers) - 1; l >= 0; l-- {
		layer := n.Layers[l]
		aPrev := cache.acts[l]
		outDim, inDim := layer.W.Dims()
		rows, _ := dZ.Dims()

		dW := mat.NewDense(outDim, inDim, nil)
		dW.Mul(dZ.T(), aPrev)
		dB := make([]float64, outDim)
		for c := 0; c < outDim; c++ {
			var s float64
			for r := 0; r < rows; r++ {
				s += dZ.At(r, c)
			}
			dB[c] = s
		}
		grads[l] = &LayerGrad{DW: dW, DB: dB}

		if l > 0 {
			dA := mat.NewDense(rows, inDim, nil)
			dA.Mul(dZ, layer.W)
			hidden := cache.acts[l]
			for r := 0; r < rows; r++ {
				for c := 0; c < inDim; c++ {
					if hidden.At(r, c) <= 0 {
						dA.Set(r, c, 0)
					}
				}
			}
			dZ = dA
		}
	}
	return grads
}
