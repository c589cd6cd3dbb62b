// Package mocks provides scripted fakes shared by package tests.
//
// # Usage
//
//	import "lessonforge/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    model := mocks.NewMockLLMClient()
//	    model.RespondWith(mocks.PythonBlock("from manim import *"))
//	    renderer := mocks.NewScriptedRenderer()
//	    renderer.OnScene(1, mocks.Fail("NameError: name 'circel' is not defined"))
//	    // Use model and renderer in test...
//	}
//
// # Available Mocks
//
//   - MockLLMClient: scripted llm.LLMClient with prompt-matching rules
//   - ScriptedRenderer: render.Renderer with per-scene outcome scripts
//   - RecordingMemory: in-memory Fix-Memory that records queries and commits
//   - RecordingUploader: storage sink that records uploads
package mocks
