package emit

// chunkPrelude opens every chunk. Chunks register their modules in a
// page-global registry so chunks can load in any order before the entry
// starts.
const chunkPrelude = `(function() {
var registry = self.__bundlekit__ = self.__bundlekit__ || { m: {}, c: {}, a: {}, l: {} };
`

const chunkEpilogue = "})();\n"

// runtime defines the module loader once per page. The argument is the public
// path. Module definitions are
// [factory, dependency map] pairs; require resolves specifiers through the
// dependency map of the calling module and require.e loads the files of an
// async chunk group before requiring its root.
const runtime = `if (!registry.s) {
  registry.p = %s;
  var interop = function (exp) {
    if (exp && exp.__esModule) return exp;
    var ns = { default: exp };
    if (exp && typeof exp === "object") {
      for (var k in exp) if (k !== "default") ns[k] = exp[k];
    }
    return ns;
  };
  var fetchFile = function (file) {
    if (!registry.l[file]) {
      registry.l[file] = new Promise(function (resolve, reject) {
        var el;
        if (/\.css$/.test(file)) {
          el = document.createElement("link");
          el.rel = "stylesheet";
          el.href = registry.p + file;
        } else {
          el = document.createElement("script");
          el.src = registry.p + file;
          el.async = true;
        }
        el.onload = function () { resolve(); };
        el.onerror = function () {
          delete registry.l[file];
          reject(new Error("Loading chunk " + file + " failed"));
        };
        document.head.appendChild(el);
      });
    }
    return registry.l[file];
  };
  var scoped = function (deps) {
    var resolve = function (spec) {
      return Object.prototype.hasOwnProperty.call(deps, spec) ? deps[spec] : spec;
    };
    var require = function (spec) { return load(resolve(spec)); };
    require.e = function (spec) {
      var id = resolve(spec);
      var files = registry.a[id] || [];
      return Promise.all(files.map(fetchFile)).then(function () { return interop(load(id)); });
    };
    return require;
  };
  var load = function (id) {
    var cached = registry.c[id];
    if (cached) return cached.exports;
    var def = registry.m[id];
    if (!def) throw new Error("Cannot find module '" + id + "'");
    var module = registry.c[id] = { id: id, exports: {} };
    def[0].call(module.exports, module, module.exports, scoped(def[1]));
    return module.exports;
  };
  registry.s = load;
}
`

// asyncFiles adds the files of each async chunk group, keyed by the import
// target, to the registry.
const asyncFiles = "Object.assign(registry.a, %s);\n"

// markLoaded records files already loaded by the page.
const markLoaded = "%s.forEach(function (f) { registry.l[f] = registry.l[f] || Promise.resolve(); });\n"

const startEntry = "registry.s(%s);\n"

