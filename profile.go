package main

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

const profileTimeFormat = "20060102_150405"

// Profiler represents an active profiling session toggled by SIGUSR2.
type Profiler struct {
	dataDir string
	closers []func()
	stopped uint32
}

// StartProfiler starts cpu, heap, block and mutex profiling. Call Stop to
// flush the data files.
func StartProfiler(dataDir string) *Profiler {
	p := &Profiler{dataDir: dataDir}

	if f, err := os.Create(p.dumpFile("cpu")); err != nil {
		glog.Errorf("pprof: could not create cpu profile: %v", err)
	} else if err := pprof.StartCPUProfile(f); err != nil {
		glog.Errorf("pprof: could not start cpu profile: %v", err)
		f.Close()
	} else {
		glog.Infof("pprof: cpu profiling enabled, %s", f.Name())
		p.closers = append(p.closers, func() {
			pprof.StopCPUProfile()
			f.Close()
		})
	}

	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
	for _, kind := range []string{"heap", "block", "mutex"} {
		kind := kind
		f, err := os.Create(p.dumpFile(kind))
		if err != nil {
			glog.Errorf("pprof: could not create %s profile: %v", kind, err)
			continue
		}
		glog.Infof("pprof: %s profiling enabled, %s", kind, f.Name())
		p.closers = append(p.closers, func() {
			if prof := pprof.Lookup(kind); prof != nil {
				_ = prof.WriteTo(f, 0)
			}
			f.Close()
		})
	}

	return p
}

// Stop stops the profile and flushes any unwritten data.
func (p *Profiler) Stop() {
	if !atomic.CompareAndSwapUint32(&p.stopped, 0, 1) {
		return
	}
	for _, closer := range p.closers {
		closer()
	}
	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)
	glog.Infof("pprof: profiling disabled")
}

func (p *Profiler) dumpFile(kind string) string {
	return path.Join(p.dataDir, fmt.Sprintf("%s-%s.pprof", kind, time.Now().Format(profileTimeFormat)))
}

func dumpGoroutines(dataDir string) {
	fn := path.Join(dataDir, fmt.Sprintf("goroutines-%s.dump", time.Now().Format(profileTimeFormat)))
	glog.Infof("dumping goroutine profile to %s", fn)
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("failed to dump goroutine profile: %v", err)
		return
	}
	defer f.Close()
	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		glog.Errorf("failed to write goroutine profile to %s: %v", fn, err)
	}
}
