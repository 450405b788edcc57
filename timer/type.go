package timer

type Key struct {
	Kind int32
	ID   int32
}

type entry struct {
	next  int64 // ms
	inv   int64
	times int32
	f     func()
}
