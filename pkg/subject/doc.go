/*
Package subject implements dot-separated subject matching for the bus.

Patterns follow the usual pub/sub conventions:

	round.*.v1         "*" matches exactly one token
	user.>             ">" matches one or more trailing tokens

A scoped subject carries one extra trailing token after its base subject,
for example round.created.v1.guild-42. SplitScope and WithScope convert
between the two forms; whether a contract accepts the scope is decided by
the contract package.
*/
package subject
