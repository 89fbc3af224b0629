// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

// pythonBuiltins are names always in scope that never become graph nodes.
var pythonBuiltins = []string{
	// functions
	"abs", "aiter", "all", "anext", "any", "ascii", "bin", "breakpoint", "callable",
	"chr", "compile", "delattr", "dir", "divmod", "enumerate", "eval", "exec",
	"filter", "format", "getattr", "globals", "hasattr", "hash", "help", "hex",
	"id", "input", "isinstance", "issubclass", "iter", "len", "locals", "map",
	"max", "min", "next", "oct", "open", "ord", "pow", "print", "repr",
	"reversed", "round", "setattr", "sorted", "sum", "vars", "zip", "__import__",

	// types
	"bool", "bytearray", "bytes", "classmethod", "complex", "dict", "float",
	"frozenset", "int", "list", "memoryview", "object", "property", "range",
	"set", "slice", "staticmethod", "str", "super", "tuple", "type",

	// constants
	"True", "False", "None", "NotImplemented", "Ellipsis", "__debug__",

	// module attributes
	"__name__", "__file__", "__doc__", "__package__", "__spec__", "__loader__",
	"__path__", "__all__", "__builtins__", "__dict__", "__class__",

	// exceptions
	"BaseException", "BaseExceptionGroup", "Exception", "ExceptionGroup",
	"ArithmeticError", "AssertionError", "AttributeError", "BlockingIOError",
	"BrokenPipeError", "BufferError", "ChildProcessError", "ConnectionAbortedError",
	"ConnectionError", "ConnectionRefusedError", "ConnectionResetError",
	"EOFError", "EnvironmentError", "FileExistsError", "FileNotFoundError",
	"FloatingPointError", "GeneratorExit", "IOError", "ImportError",
	"IndentationError", "IndexError", "InterruptedError", "IsADirectoryError",
	"KeyError", "KeyboardInterrupt", "LookupError", "MemoryError",
	"ModuleNotFoundError", "NameError", "NotADirectoryError", "NotImplementedError",
	"OSError", "OverflowError", "PermissionError", "ProcessLookupError",
	"RecursionError", "ReferenceError", "RuntimeError", "StopAsyncIteration",
	"StopIteration", "SyntaxError", "SystemError", "SystemExit", "TabError",
	"TimeoutError", "TypeError", "UnboundLocalError", "UnicodeDecodeError",
	"UnicodeEncodeError", "UnicodeError", "UnicodeTranslateError", "ValueError",
	"ZeroDivisionError",

	// warnings
	"BytesWarning", "DeprecationWarning", "EncodingWarning", "FutureWarning",
	"ImportWarning", "PendingDeprecationWarning", "ResourceWarning",
	"RuntimeWarning", "SyntaxWarning", "UnicodeWarning", "UserWarning", "Warning",
}
