// Package session tracks live client connections.
//
// A user may hold several sessions at once (one per device or tab). Each
// session owns a bounded event buffer; pushes are non-blocking, so one
// slow consumer never delays delivery to the others. The manager notifies
// the presence registry synchronously as sessions register and unregister.
package session
