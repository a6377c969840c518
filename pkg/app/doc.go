/*
Package app wires the session, transport, subscription manager, mirrors and
snapshot loader into one client.

Initialize runs once:

 1. initialize the session; an unauthenticated session stops here
 2. subscribe every route, scoped to the session's guild where supported
 3. connect the transport
 4. register snapshot recovery with the subscription manager and start it
 5. load initial snapshots through the preload queue

When the session reports that the context already switched with data
loaded, steps 3 and 5 are skipped: the next connection the transport makes
runs the recovery path instead. Recovery runs after every reconnect: the
manager re-issues each subject, then snapshots for every stream are loaded
again. Authentication is never repeated.

If the transport exhausts its reconnect attempts the app goes offline.
Mirrors keep their last state and Reconnect starts a new attempt cycle.
*/
package app
