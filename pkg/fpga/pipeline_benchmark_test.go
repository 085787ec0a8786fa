package fpga

import (
	"context"
	"testing"
	"time"
)

func benchRequest() PricingRequest {
	return PricingRequest{
		Spot:       q(100),
		Strike:     q(100),
		Time:       q(1),
		Volatility: q(0.2),
		Rate:       q(0.05),
	}
}

// BenchmarkPipelineStrategies compares the CDF strategies end to end
func BenchmarkPipelineStrategies(b *testing.B) {
	for _, s := range []CDFStrategy{CDFRational, CDFTable, CDFQuartic} {
		for _, j := range []JointMode{JointParallel, JointSerial} {
			b.Run(s.String()+"-"+j.String(), func(b *testing.B) {
				cfg := DefaultPipelineConfig()
				cfg.Strategy, cfg.Joint = s, j
				p, err := NewPipeline(cfg)
				if err != nil {
					b.Fatal(err)
				}
				req := benchRequest()

				b.ResetTimer()
				b.ReportAllocs()

				var ticks uint64
				for i := 0; i < b.N; i++ {
					res, err := p.Price(req)
					if err != nil {
						b.Fatal(err)
					}
					ticks = res.Ticks
				}
				b.ReportMetric(float64(ticks), "ticks/op")
			})
		}
	}
}

// BenchmarkManagerThroughput measures batch pricing across a device pool
func BenchmarkManagerThroughput(b *testing.B) {
	for _, devices := range []int{1, 4} {
		b.Run(map[int]string{1: "1-device", 4: "4-devices"}[devices], func(b *testing.B) {
			m, err := NewManager(ManagerConfig{
				Pipeline: DefaultPipelineConfig(),
				Devices:  devices,
			}, testLogger())
			if err != nil {
				b.Fatal(err)
			}

			reqs := make([]PricingRequest, 64)
			for i := range reqs {
				reqs[i] = benchRequest()
				reqs[i].Strike = q(80 + float64(i))
			}

			start := time.Now()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := m.BatchPrice(context.Background(), reqs); err != nil {
					b.Fatal(err)
				}
			}
			elapsed := time.Since(start)
			b.ReportMetric(float64(b.N*len(reqs))/elapsed.Seconds(), "pricings/s")
		})
	}
}
