package model

import "gonum.org/v1/gonum/floats"

// SGD is plain stochastic gradient descent without momentum.
type SGD struct {
	LR float64
}

// Step applies g to m. Only embedding rows present in g are touched.
func (o SGD) Step(m *Model, g *Gradients) {
	for _, p := range []struct {
		l *Linear
		g *LinearGrad
	}{{m.FC1, &g.FC1}, {m.FC2, &g.FC2}, {m.FC3, &g.FC3}} {
		floats.AddScaled(p.l.W.RawMatrix().Data, -o.LR, p.g.W.RawMatrix().Data)
		floats.AddScaled(p.l.B, -o.LR, p.g.B)
	}
	for row, grad := range g.Tags {
		floats.AddScaled(m.Tags.W.RawRowView(row), -o.LR, grad)
	}
	for row, grad := range g.Docs {
		floats.AddScaled(m.Docs.W.RawRowView(row), -o.LR, grad)
	}
}
