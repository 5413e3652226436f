package browser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Page functions run through Runtime.callFunctionOn with this bound to the
// target node. Text nodes are promoted to their parent element.

const elementPrelude = `var el = this && this.nodeType === 1 ? this : (this && this.parentElement);`

// Markers live on elements only. A text node reports element false and is
// never written, so it cannot take over its parent's marker.
const scriptReadMarker = `function(attr) {
	if (!this || this.nodeType !== 1) return {id: "", tag: "", element: false};
	return {id: this.getAttribute(attr) || "", tag: this.tagName.toLowerCase(), element: true};
}`

const scriptWriteMarker = `function(attr, id) {
	if (!this || this.nodeType !== 1) return false;
	this.setAttribute(attr, id);
	return true;
}`

const scriptIsEditable = `function() {
	` + elementPrelude + `
	if (!el) return false;
	if (el.isContentEditable) return true;
	var tag = el.tagName;
	if (tag === "TEXTAREA") return !el.disabled && !el.readOnly;
	if (tag === "INPUT") {
		var t = (el.type || "text").toLowerCase();
		var blocked = ["button", "submit", "reset", "checkbox", "radio", "file", "image", "hidden", "range", "color"];
		return blocked.indexOf(t) < 0 && !el.disabled && !el.readOnly;
	}
	var role = el.getAttribute("role");
	return role === "textbox" || role === "searchbox" || role === "combobox";
}`

// editorLookup finds a rich editor instance around el. It defines
// findEditor(el) returning {kind, set(v), get()} or null.
const editorLookup = `
	function within(node, el) {
		return !!node && (node === el || node.contains(el) || el.contains(node));
	}
	function findEditor(el) {
		var host;
		if (window.monaco && window.monaco.editor && window.monaco.editor.getEditors) {
			var eds = window.monaco.editor.getEditors();
			for (var i = 0; i < eds.length; i++) {
				if (within(eds[i].getDomNode(), el)) {
					var m = eds[i];
					return {kind: "monaco", set: function(v) { m.setValue(v); }, get: function() { return m.getValue(); }};
				}
			}
		}
		host = el.closest(".CodeMirror");
		if (host && host.CodeMirror) {
			var cm5 = host.CodeMirror;
			return {kind: "codemirror5", set: function(v) { cm5.setValue(v); }, get: function() { return cm5.getValue(); }};
		}
		host = el.closest(".cm-editor");
		if (host) {
			var content = host.querySelector(".cm-content");
			var view = content && content.cmView && content.cmView.rootView && content.cmView.rootView.view;
			if (view) {
				return {kind: "codemirror6", set: function(v) {
					view.dispatch({changes: {from: 0, to: view.state.doc.length, insert: v}});
				}, get: function() { return view.state.doc.toString(); }};
			}
		}
		host = el.closest(".ace_editor");
		if (host && host.env && host.env.editor) {
			var ace = host.env.editor;
			return {kind: "ace", set: function(v) { ace.setValue(v, 1); }, get: function() { return ace.getValue(); }};
		}
		host = el.closest(".ql-container");
		if (host && host.__quill) {
			var q = host.__quill;
			return {kind: "quill", set: function(v) { q.setText(v); }, get: function() { return q.getText().replace(/\n$/, ""); }};
		}
		host = el.closest(".ProseMirror");
		if (host && host.editor && host.editor.commands) {
			var tt = host.editor;
			return {kind: "tiptap", set: function(v) { tt.commands.setContent(v); }, get: function() { return tt.getText(); }};
		}
		return null;
	}
	function findRegistered(el) {
		var reg = window.__editors;
		if (!reg) return null;
		var list = Array.isArray(reg) ? reg : Object.keys(reg).map(function(k) { return reg[k]; });
		for (var i = 0; i < list.length; i++) {
			var e = list[i];
			if (!e) continue;
			var node = e.element || (typeof e.getDomNode === "function" ? e.getDomNode() : null);
			if (within(node, el)) return e;
		}
		return null;
	}
`

const scriptEditorFill = `function(value) {
	` + elementPrelude + `
	if (!el) return "";
	` + editorLookup + `
	var ed = findEditor(el);
	if (ed) { ed.set(value); return ed.kind; }
	var reg = findRegistered(el);
	if (reg && typeof reg.setValue === "function") { reg.setValue(value); return "registry"; }
	return "";
}`

const scriptEditorValue = `function() {
	` + elementPrelude + `
	if (!el) return {found: false};
	` + editorLookup + `
	var ed = findEditor(el);
	if (ed) return {found: true, value: String(ed.get())};
	var reg = findRegistered(el);
	if (reg && typeof reg.getValue === "function") return {found: true, value: String(reg.getValue())};
	if (typeof el.value === "string") return {found: true, value: el.value};
	if (el.isContentEditable) return {found: true, value: el.textContent || ""};
	return {found: false};
}`

const scriptFillEvents = `function() {
	` + elementPrelude + `
	if (!el) return false;
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	if (typeof el.blur === "function") el.blur();
	return true;
}`

// scriptSetValue is the DOM-only fill path.
const scriptSetValue = `function(value) {
	` + elementPrelude + `
	if (!el) return false;
	el.focus();
	if (el.isContentEditable) {
		el.textContent = value;
	} else {
		var proto = el.tagName === "TEXTAREA" ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		var desc = Object.getOwnPropertyDescriptor(proto, "value");
		if (desc && desc.set) desc.set.call(el, value); else el.value = value;
	}
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	el.blur();
	return true;
}`

const scriptContains = `function(other) {
	return this === other || (typeof this.contains === "function" && this.contains(other));
}`

const scriptClick = `function() {
	` + elementPrelude + `
	if (!el) return false;
	el.scrollIntoView({block: "center", inline: "center"});
	var opts = {bubbles: true, cancelable: true, view: window};
	el.dispatchEvent(new PointerEvent("pointerdown", opts));
	el.dispatchEvent(new MouseEvent("mousedown", opts));
	el.dispatchEvent(new PointerEvent("pointerup", opts));
	el.dispatchEvent(new MouseEvent("mouseup", opts));
	el.click();
	return true;
}`

const scriptHover = `function() {
	` + elementPrelude + `
	if (!el) return false;
	el.dispatchEvent(new PointerEvent("pointerover", {bubbles: true}));
	el.dispatchEvent(new MouseEvent("mouseover", {bubbles: true, cancelable: true, view: window}));
	el.dispatchEvent(new MouseEvent("mouseenter", {bubbles: false, view: window}));
	return true;
}`

const scriptHighlight = `function(ms) {
	` + elementPrelude + `
	if (!el) return false;
	var prev = el.style.outline;
	el.style.outline = "2px solid #ff6a00";
	setTimeout(function() { el.style.outline = prev; }, ms);
	return true;
}`

const scriptBoundingRect = `function() {
	` + elementPrelude + `
	if (!el) return null;
	var r = el.getBoundingClientRect();
	return {x: r.x, y: r.y, width: r.width, height: r.height};
}`

// overlayCleanupExpression removes iframes this system injected into tab.
func overlayCleanupExpression() string {
	return fmt.Sprintf(`(function(attr) {
	var frames = document.querySelectorAll("iframe[" + attr + "]");
	frames.forEach(function(f) { f.remove(); });
	return frames.length;
})(%s)`, jsString(OverlayAttribute))
}

// markerExpression locates the element carrying id in the marker attribute,
// searching same-origin iframes too, and applies fn to it. The result is
// {found, value}.
func markerExpression(id, fn string, args ...any) (string, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode script args: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, `(function(attr, id, args) {
	var sel = "[" + attr + "=\"" + CSS.escape(id) + "\"]";
	function find(doc) {
		var el = doc.querySelector(sel);
		if (el) return el;
		var frames = doc.querySelectorAll("iframe");
		for (var i = 0; i < frames.length; i++) {
			try {
				var inner = frames[i].contentDocument;
				var hit = inner && find(inner);
				if (hit) return hit;
			} catch (e) {}
		}
		return null;
	}
	var target = find(document);
	if (!target) return {found: false};
	return Promise.resolve((%s).apply(target, args)).then(function(v) { return {found: true, value: v}; });
})(%s, %s, %s)`, fn, jsString(MarkerAttribute), jsString(id), encoded)
	return b.String(), nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
