package safe

import "CProject/logger"

// Go starts a goroutine that recovers from panic, so one bad handler cannot
// take down the process.
func Go(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] %s panic recovered: %v", name, r)
			}
		}()
		f()
	}()
}
