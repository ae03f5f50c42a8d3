package pipeline

import (
	"github.com/khaledhikmat/tvsr-go/nn"
)

// Nets bundles the generator-side trainable networks. One bundle per
// device replica; replicas share weight values and own their gradient
// accumulators.
type Nets struct {
	Flow *FlowNet
	Gen  *Generator
}

func (n *Nets) Params() []*nn.Param {
	var out []*nn.Param
	out = append(out, n.Gen.Params()...)
	out = append(out, n.Flow.Params()...)
	return out
}

func (n *Nets) ShareClone() *Nets {
	return &Nets{
		Flow: n.Flow.ShareClone(),
		Gen:  n.Gen.ShareClone(),
	}
}

// stepCtx holds everything one recurrent frame step needs for its
// backward pass.
type stepCtx struct {
	first bool

	fctx   *flowCtx
	rctx   *nn.ResizeCtx
	wctx   *nn.WarpCtx
	wlctx  *nn.WarpCtx
	gctx   *genCtx
	flowLR *nn.Tensor
	flowHR *nn.Tensor
	wlOut  *nn.Tensor
}

// SequenceRun is the stored forward pass of one sequence: outputs,
// warped-LR frames for the warping loss, and the per-step contexts for
// backprop through time.
type SequenceRun struct {
	SR       []*nn.Tensor
	WarpedLR []*nn.Tensor // index t maps prev LR onto frame t; nil at t=0
	FlowHR   []*nn.Tensor // nil at t=0
	steps    []*stepCtx
}

// Step runs one recurrent generation step, threading the explicit
// state value. INIT consumes only the LR frame (zero placeholder for
// the warp slot); RECURRING warps the previous output through the
// estimated flow first. The returned tensors belong to the caller.
func (n *Nets) Step(lr *nn.Tensor, state *RecurrentState) (*nn.Tensor, *stepCtx) {
	scale := n.Gen.Scale
	h, w := lr.Shape[1], lr.Shape[2]

	if state.Phase() == PhaseInit {
		s2d := nn.NewTensor(3*scale*scale, h, w)
		sr, gctx := n.Gen.Forward(lr, s2d)
		state.advance(lr, sr)
		return sr, &stepCtx{first: true, gctx: gctx}
	}

	ctx := &stepCtx{}

	flowLR, fctx := n.Flow.Forward(state.PrevLR, lr)
	ctx.fctx = fctx
	ctx.flowLR = flowLR

	flowHR, rctx := nn.ResizeBilinear(flowLR, h*scale, w*scale)
	flowHR.Scale(float64(scale))
	ctx.rctx = rctx
	ctx.flowHR = flowHR

	warped, wctx := nn.Warp(state.PrevSR, flowHR)
	ctx.wctx = wctx

	warpedLR, wlctx := nn.Warp(state.PrevLR, flowLR)
	ctx.wlctx = wlctx
	ctx.wlOut = warpedLR

	s2d := nn.SpaceToDepth(warped, scale)
	sr, gctx := n.Gen.Forward(lr, s2d)
	ctx.gctx = gctx

	state.advance(lr, sr)
	return sr, ctx
}

// RunSequence executes the full recurrent forward pass over a window,
// keeping every step context for backprop through time.
func (n *Nets) RunSequence(lrs []*nn.Tensor) *SequenceRun {
	run := &SequenceRun{
		SR:       make([]*nn.Tensor, len(lrs)),
		WarpedLR: make([]*nn.Tensor, len(lrs)),
		FlowHR:   make([]*nn.Tensor, len(lrs)),
		steps:    make([]*stepCtx, len(lrs)),
	}

	state := NewRecurrentState()
	for t, lr := range lrs {
		sr, ctx := n.Step(lr, state)
		run.SR[t] = sr
		run.steps[t] = ctx
		if !ctx.first {
			run.WarpedLR[t] = ctx.wlOut
			run.FlowHR[t] = ctx.flowHR
		}
	}
	state.Finish()
	return run
}

// BackwardSequence runs backprop through time. gradSR carries
// d(loss)/d(output) per frame; gradWarpedLR carries the warping-loss
// gradient (nil where absent). Step t's output feeds step t+1 through
// the warp, so the carried gradient flows strictly backward in time.
func (n *Nets) BackwardSequence(run *SequenceRun, gradSR, gradWarpedLR []*nn.Tensor) {
	scale := n.Gen.Scale
	var carried *nn.Tensor // d(loss)/d(sr[t]) contributed by step t+1

	for t := len(run.steps) - 1; t >= 0; t-- {
		ctx := run.steps[t]

		g := gradSR[t]
		if g == nil {
			g = nn.NewTensor(run.SR[t].Shape...)
		} else {
			g = g.Clone()
		}
		if carried != nil {
			g.AddScaled(carried, 1)
		}
		carried = nil

		gS2D := n.Gen.Backward(ctx.gctx, g)
		if ctx.first {
			continue
		}

		gWarped := nn.DepthToSpace(gS2D, scale)
		gPrevSR, gFlowHR := nn.WarpBackward(ctx.wctx, gWarped)
		carried = gPrevSR

		// flowHR = scale * resize(flowLR)
		gFlowHR.Scale(float64(scale))
		gFlowLR := nn.ResizeBilinearBackward(ctx.rctx, gFlowHR)

		if gradWarpedLR != nil && gradWarpedLR[t] != nil {
			_, gFlowWL := nn.WarpBackward(ctx.wlctx, gradWarpedLR[t])
			gFlowLR.AddScaled(gFlowWL, 1)
		}

		n.Flow.Backward(ctx.fctx, gFlowLR)
	}
}
