package registry

// UserCodeMarker is the single substitution point inside wrapper templates.
const UserCodeMarker = "@@USER_CODE@@"

// builtinLanguages is the static language table. Read-only after init.
var builtinLanguages = []Language{
	{
		ID:               "c",
		Name:             "C (GCC 13)",
		Version:          "c17",
		SourceFile:       "main.c",
		BinaryFile:       "main",
		CompileCmd:       "/usr/bin/gcc -O2 -std=c17 -o {bin} {src} -lm",
		RunCmd:           "{bin}",
		TimeMultiplier:   1,
		MemoryMultiplier: 1,
		Wrapper: `#include <stdio.h>
#include <stdlib.h>
#include <string.h>

@@USER_CODE@@

int main(void) {
    static char input[1 << 20];
    size_t n = fread(input, 1, sizeof(input) - 1, stdin);
    input[n] = '\0';
    printf("%s", solve(input));
    return 0;
}
`,
		Signature: `const char *solve(const char *input) {
    /* your code here */
}
`,
	},
	{
		ID:               "cpp",
		Name:             "C++ (G++ 13)",
		Version:          "c++20",
		SourceFile:       "main.cpp",
		BinaryFile:       "main",
		CompileCmd:       "/usr/bin/g++ -O2 -std=c++20 -o {bin} {src}",
		RunCmd:           "{bin}",
		TimeMultiplier:   1,
		MemoryMultiplier: 1,
		Wrapper: `#include <bits/stdc++.h>
using namespace std;

@@USER_CODE@@

int main() {
    ios::sync_with_stdio(false);
    string input((istreambuf_iterator<char>(cin)), istreambuf_iterator<char>());
    cout << solve(input);
    return 0;
}
`,
		Signature: `std::string solve(const std::string &input) {
    // your code here
}
`,
	},
	{
		ID:               "java",
		Name:             "Java (OpenJDK 21)",
		Version:          "21",
		SourceFile:       "Main.java",
		BinaryFile:       "Main.class",
		CompileCmd:       "/usr/bin/javac {src}",
		RunCmd:           "/usr/bin/java -XX:+UseSerialGC -Xss64m Main",
		TimeMultiplier:   2,
		MemoryMultiplier: 2,
		Wrapper: `import java.util.*;
import java.io.*;

public class Main {
@@USER_CODE@@

    public static void main(String[] args) throws IOException {
        byte[] raw = System.in.readAllBytes();
        System.out.print(solve(new String(raw)));
    }
}
`,
		Signature: `static String solve(String input) {
    // your code here
}
`,
	},
	{
		ID:               "python",
		Name:             "Python (CPython 3.12)",
		Version:          "3.12",
		SourceFile:       "main.py",
		BinaryFile:       "main.py",
		RunCmd:           "/usr/bin/python3 {src}",
		TimeMultiplier:   5,
		MemoryMultiplier: 2,
		Wrapper: `import sys

@@USER_CODE@@

if __name__ == "__main__":
    sys.stdout.write(str(solve(sys.stdin.read())))
`,
		Signature: `def solve(input):
    # your code here
`,
	},
	{
		ID:               "go",
		Name:             "Go (1.24)",
		Version:          "1.24",
		SourceFile:       "main.go",
		BinaryFile:       "main",
		CompileCmd:       "/usr/local/go/bin/go build -o {bin} {src}",
		RunCmd:           "{bin}",
		Env:              []string{"GOCACHE=/tmp/gocache", "HOME=/tmp"},
		TimeMultiplier:   1.5,
		MemoryMultiplier: 1,
		Wrapper: `package main

import (
	"fmt"
	"io"
	"os"
)

@@USER_CODE@@

func main() {
	raw, _ := io.ReadAll(os.Stdin)
	fmt.Print(solve(string(raw)))
}
`,
		Signature: `func solve(input string) string {
	// your code here
}
`,
	},
	{
		ID:               "javascript",
		Name:             "JavaScript (Node 22)",
		Version:          "22",
		SourceFile:       "main.js",
		BinaryFile:       "main.js",
		RunCmd:           "/usr/bin/node {src}",
		TimeMultiplier:   3,
		MemoryMultiplier: 2,
		Wrapper: `"use strict";

@@USER_CODE@@

const input = require("fs").readFileSync(0, "utf8");
process.stdout.write(String(solve(input)));
`,
		Signature: `function solve(input) {
    // your code here
}
`,
	},
}
