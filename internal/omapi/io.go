package omapi

// IOObject is what an I/O dispatcher polls. ReadFD and WriteFD report the
// descriptor to wait on, or false when the object is not interested.
// Reader, Writer and Reaper answer Success, NotConnected (deregister me)
// or an error status.
type IOObject interface {
	Object
	ReadFD() (int, bool)
	WriteFD() (int, bool)
	Reader() Status
	Writer() Status
	Reaper() Status
}

// IORegistrar is the dispatcher side of the contract.
type IORegistrar interface {
	RegisterIO(obj IOObject) Status
	UnregisterIO(obj Object) Status
}
