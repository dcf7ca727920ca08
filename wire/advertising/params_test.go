package advertising

import "testing"

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if p.IntervalMinMs() != 20 || p.IntervalMaxMs() != 40 {
		t.Errorf("interval = %v..%v ms", p.IntervalMinMs(), p.IntervalMaxMs())
	}
	if !p.Connectable() {
		t.Error("ADV_IND should be connectable")
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"interval too small", func(p *Params) { p.IntervalMin = 0x10 }},
		{"min above max", func(p *Params) { p.IntervalMin = 0x50 }},
		{"unknown type", func(p *Params) { p.Type = 9 }},
		{"no channels", func(p *Params) { p.ChannelMap = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
