package xproc

var ResolveBindings = resolveBindings
