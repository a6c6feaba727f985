package drive

// debouncer reports true once a condition has held for window consecutive samples.
// A single failing sample restarts the count.
type debouncer struct {
	window int
	count  int
}

func (d *debouncer) sample(ok bool) bool {
	if !ok {
		d.count = 0
		return false
	}
	if d.count < d.window {
		d.count++
	}
	return d.settled()
}

func (d *debouncer) settled() bool {
	return d.count >= d.window && d.count > 0
}

func (d *debouncer) reset(window int) {
	if window < 1 {
		window = 1
	}
	d.window = window
	d.count = 0
}
