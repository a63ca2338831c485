// Package runtime provides the host side of embedded node execution.
//
// # Key Components
//
// EmbeddedNode: The interface all embedded nodes implement. A node receives
// an ExecuteFunctions value and returns its output items.
//
// Executor: Implements ExecuteFunctions for one run of one node. It exposes
// the input items, resolves parameters (node description defaults, then the
// caller's fallback), evaluates expression parameters, loads credentials and
// binary payloads, and carries the continue-on-fail flag.
//
// DefaultNodeFactory: Registry of node creators keyed by plugin type.
//
// # Items
//
// An Item carries a JSON object and optional binary payloads keyed by
// property name. Binary payloads are either inline (base64) or stored by
// reference and loaded through a BinaryDataStore.
//
// # Expressions
//
// A parameter value starting with "=" is an expression. Text inside {{ }} is
// evaluated as JavaScript with these globals:
//
//	$json    the current item's JSON
//	$binary  metadata of the current item's binary payloads
//	$index   the current item index
//	$node    {id, name} of the running node
//
// A value consisting of a single {{ }} block keeps the JavaScript result type;
// mixed text is rendered to a string.
package runtime
