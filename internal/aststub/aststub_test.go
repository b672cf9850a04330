package aststub

import (
	"strings"
	"testing"

	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stub(selector, content string) *plan.AstStub {
	return &plan.AstStub{
		Base:      plan.Base{ID: "op-1", Strategy: plan.StrategyAST, FilePath: "src/App.tsx"},
		Selector:  selector,
		Operation: plan.AstInsertAfter,
		Content:   content,
	}
}

func TestApply_Dispatch(t *testing.T) {
	src := "import React from 'react';\n"

	out, ok := Apply(src, stub("addImport:useState:react", ""))
	require.True(t, ok)
	assert.Equal(t, "import React, { useState } from 'react';\n", out)

	_, ok = Apply(src, stub("addImport:useState", ""))
	assert.False(t, ok, "module is required")

	_, ok = Apply(src, stub("renameSymbol:a:b", ""))
	assert.False(t, ok)

	_, ok = Apply(src, stub("", ""))
	assert.False(t, ok)
}

func TestAddImport_Idempotent(t *testing.T) {
	src := "import { a } from 'lib';\n\nexport const x = a;\n"

	once, ok := AddImport(src, "b", "lib")
	require.True(t, ok)
	twice, ok := AddImport(once, "b", "lib")
	require.True(t, ok)

	assert.Equal(t, once, twice)
	assert.Equal(t, "import { a, b } from 'lib';\n\nexport const x = a;\n", once)
}

func TestAddImport_SecondImportFromModule(t *testing.T) {
	src := "import { a } from 'm';\nimport { b } from 'm';\n"

	out, ok := AddImport(src, "b", "m")
	require.True(t, ok)
	assert.Equal(t, src, out)
}

const functionComponent = `import React from 'react';

export default function App() {
  const [n, setN] = React.useState(0);
  return (
    <div>{n}</div>
  );
}
`

func TestInsertUseEffect_BeforeReturn(t *testing.T) {
	out, ok := InsertUseEffect(functionComponent, "", "document.title = 'x';")
	require.True(t, ok)

	assert.Contains(t, out, "import React, { useEffect } from 'react';")
	assert.Contains(t, out, "  useEffect(() => {\n    document.title = 'x';\n  }, []);\n\n  return (")

	again, ok := InsertUseEffect(out, "", "document.title = 'x';")
	require.True(t, ok)
	assert.Equal(t, out, again)
}

func TestInsertUseEffect_ArrowComponent(t *testing.T) {
	src := "const Panel = ({ title }: Props) => {\n  console.log(title);\n};\n"
	effect := "useEffect(() => {\n  load(title);\n}, [title]);"

	out, ok := InsertUseEffect(src, "Panel", effect)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(out, "import { useEffect } from 'react';\n"))
	assert.Contains(t, out, "  console.log(title);\n  useEffect(() => {\n    load(title);\n  }, [title]);\n};")
}

func TestInsertUseEffect_BracesInStrings(t *testing.T) {
	src := "function Widget() {\n  const s = \"}\";\n  return null;\n}\n"

	out, ok := InsertUseEffect(src, "Widget", "useEffect(() => { ping(); }, []);")
	require.True(t, ok)
	assert.Contains(t, out, "  const s = \"}\";\n  useEffect(() => { ping(); }, []);\n\n  return null;")
}

func TestInsertUseEffect_NoComponent(t *testing.T) {
	_, ok := InsertUseEffect("const x = 1;\n", "", "tick();")
	assert.False(t, ok)

	_, ok = InsertUseEffect(functionComponent, "Missing", "tick();")
	assert.False(t, ok)

	_, ok = InsertUseEffect(functionComponent, "", "  ")
	assert.False(t, ok)
}

func TestInsertJSXInToolbar(t *testing.T) {
	tests := []struct {
		name    string
		content string
		element string
		want    string
	}{
		{
			name:    "toolbar container",
			content: "return (\n  <AppBar>\n    <Toolbar>\n      <Title />\n    </Toolbar>\n  </AppBar>\n);\n",
			element: "<SaveButton />",
			want:    "return (\n  <AppBar>\n    <Toolbar>\n      <Title />\n      <SaveButton />\n    </Toolbar>\n  </AppBar>\n);\n",
		},
		{
			name:    "toolbar class div",
			content: "<div className=\"page\"><div className=\"app-toolbar\"><b/></div></div>",
			element: "<i/>",
			want:    "<div className=\"page\"><div className=\"app-toolbar\"><b/><i/></div></div>",
		},
		{
			name:    "nested same tag",
			content: "<Toolbar><Toolbar></Toolbar></Toolbar>",
			element: "<X/>",
			want:    "<Toolbar><Toolbar></Toolbar><X/></Toolbar>",
		},
		{
			name:    "returned root fallback",
			content: "function A() {\n  return (\n    <main>\n      <p>hi</p>\n    </main>\n  );\n}\n",
			element: "<Button />",
			want:    "function A() {\n  return (\n    <main>\n      <p>hi</p>\n      <Button />\n    </main>\n  );\n}\n",
		},
		{
			name:    "fragment root",
			content: "const A = () => { return <><p/></>; };",
			element: "<q/>",
			want:    "const A = () => { return <><p/><q/></>; };",
		},
		{
			name:    "append as last resort",
			content: "export const x = 1;",
			element: "<Button />",
			want:    "export const x = 1;\n<Button />\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := InsertJSXInToolbar(tt.content, tt.element)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)

			again, ok := InsertJSXInToolbar(got, tt.element)
			require.True(t, ok)
			assert.Equal(t, got, again, "second application must be a no-op")
		})
	}
}

func TestInsertJSXInToolbar_EmptyElement(t *testing.T) {
	_, ok := InsertJSXInToolbar("<Toolbar></Toolbar>", " ")
	assert.False(t, ok)
}

func TestInsertJSXInToolbar_AttributeExpressions(t *testing.T) {
	src := "<Toolbar onClick={() => a > b}>\n</Toolbar>"
	out, ok := InsertJSXInToolbar(src, "<X/>")
	require.True(t, ok)
	assert.Equal(t, "<Toolbar onClick={() => a > b}>\n  <X/>\n</Toolbar>", out)
}
